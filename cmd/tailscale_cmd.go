package cmd

import (
	"context"

	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/gateway"
)

// gatewayTailscale mounts the same mux Start will serve on loopback onto
// an optional tailnet-only listener (build-tag gated, see
// internal/gateway/tailscale.go / tailscale_stub.go).
func gatewayTailscale(ctx context.Context, cfg *config.Config, st *stack) (func(), error) {
	if cfg.Tailscale.Hostname == "" {
		return nil, nil
	}
	mux := st.server.BuildMux()
	return gateway.StartTailscale(ctx, cfg, mux)
}
