package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cell0os/core/internal/config"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the gateway's /health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth()
		},
	}
}

func runHealth() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fail(exitConfigInvalid, err)
	}
	if _, alive := readPidfile(pidFilePath(cfg)); !alive {
		return fail(exitNotRunning, fmt.Errorf("gateway not running"))
	}

	host := cfg.Gateway.Host
	if host == "" {
		host = "127.0.0.1"
	}
	// Start's port scan may have bound above the configured base port;
	// probe the whole scan range rather than assuming the base port won.
	client := &http.Client{Timeout: 2 * time.Second}
	for offset := 0; offset <= cfg.Gateway.PortScanRange; offset++ {
		url := fmt.Sprintf("http://%s:%d/health", host, cfg.Gateway.Port+offset)
		resp, err := client.Get(url)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("ok")
			return nil
		}
	}
	return fail(exitHealthFail, fmt.Errorf("gateway did not answer /health on %s ports %d-%d", host, cfg.Gateway.Port, cfg.Gateway.Port+cfg.Gateway.PortScanRange))
}
