package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cell0os/core/internal/config"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the gateway in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
}

func runStart() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fail(exitConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return fail(exitConfigInvalid, err)
	}

	pidPath := pidFilePath(cfg)
	if pid, alive := readPidfile(pidPath); alive {
		return fail(exitAlreadyRunning, fmt.Errorf("gateway already running (pid %d)", pid))
	}
	if err := writePidfile(pidPath); err != nil {
		return fail(exitMisuse, fmt.Errorf("write pidfile: %w", err))
	}
	defer os.Remove(pidPath)

	st, err := buildStack(cfg)
	if err != nil {
		return fail(exitMisuse, err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runChannels(ctx, st); err != nil {
		return fail(exitMisuse, err)
	}

	cleanup, err := gatewayTailscale(ctx, cfg, st)
	if err != nil {
		slog.Warn("gateway: tailnet listener unavailable", "error", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	slog.Info("cell0 gateway starting")
	if err := st.server.Start(ctx); err != nil {
		return fail(exitMisuse, err)
	}
	slog.Info("cell0 gateway stopped")
	return nil
}

// pidFilePath is a fixed location under the state dir so `stop`/`status`
// started from a different working directory still finds the right
// process — the CLI and the gateway always agree on state_dir.
func pidFilePath(cfg *config.Config) string {
	return filepath.Join(stateDir(cfg), "cell0.pid")
}
