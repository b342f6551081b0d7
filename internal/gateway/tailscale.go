//go:build tsnet

package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"tailscale.com/tsnet"

	"github.com/cell0os/core/internal/config"
)

// StartTailscale brings up a tailnet-only listener serving mux alongside
// the main loopback listener, when cfg.Tailscale.Hostname is set. Compiled
// only with `-tags tsnet`, mirroring the teacher's own build-tag-gated
// cmd/gateway.go initTailscale hook (not present in the retrieved pack,
// so this is wired from tsnet's own public API: tsnet.Server{Hostname,
// Dir, AuthKey, Ephemeral}, srv.Up, srv.Listen).
func StartTailscale(ctx context.Context, cfg *config.Config, mux http.Handler) (cleanup func(), err error) {
	if cfg.Tailscale.Hostname == "" {
		return nil, nil
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Tailscale.Hostname,
		Dir:       cfg.Tailscale.StateDir,
		AuthKey:   cfg.Tailscale.AuthKey,
		Ephemeral: cfg.Tailscale.Ephemeral,
	}

	if _, err := srv.Up(ctx); err != nil {
		return nil, err
	}

	ln, err := srv.Listen("tcp", ":80")
	if err != nil {
		srv.Close()
		return nil, err
	}

	httpSrv := &http.Server{Handler: mux}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("tailscale listener stopped", "error", err)
		}
	}()

	slog.Info("tailscale listener started", "hostname", cfg.Tailscale.Hostname)

	return func() {
		httpSrv.Close()
		srv.Close()
	}, nil
}
