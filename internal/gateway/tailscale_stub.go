//go:build !tsnet

package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cell0os/core/internal/config"
)

// StartTailscale is the default no-op build: tsnet pulls in a large
// dependency tree (wireguard-go, netstack) that most deployments never
// need, so it's compiled in only with `-tags tsnet`.
func StartTailscale(_ context.Context, cfg *config.Config, _ http.Handler) (cleanup func(), err error) {
	if cfg.Tailscale.Hostname != "" {
		slog.Warn("tailscale hostname configured but binary was built without -tags tsnet; ignoring")
	}
	return nil, nil
}
