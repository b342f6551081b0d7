package cmd

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cell0os/core/internal/config"
)

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop()
		},
	}
}

func runStop() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fail(exitConfigInvalid, err)
	}
	path := pidFilePath(cfg)
	pid, err := mustReadPidfile(path)
	if err != nil {
		return fail(exitNotRunning, err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fail(exitNotRunning, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fail(exitNotRunning, fmt.Errorf("signal pid %d: %w", pid, err))
	}

	for i := 0; i < 50; i++ {
		if _, alive := readPidfile(path); !alive {
			fmt.Println("cell0 gateway stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fail(exitMisuse, fmt.Errorf("pid %d did not exit within 5s", pid))
}
