package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cell0os/core/internal/config"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the gateway is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fail(exitConfigInvalid, err)
	}
	pid, alive := readPidfile(pidFilePath(cfg))
	if !alive {
		fmt.Println("stopped")
		return fail(exitNotRunning, fmt.Errorf("gateway not running"))
	}
	fmt.Printf("running (pid %d)\n", pid)
	return nil
}
