// Package cmd implements Cell 0 OS's command-line surface: start|stop|
// status|health|checkpoint <create|restore>|config <init|validate|show>.
// Grounded on vanducng-goclaw/cmd/root.go's cobra rootCmd/PersistentFlags/
// AddCommand shape, adapted from a single `goclaw` gateway process to a
// process that additionally distinguishes "misuse", "not running",
// "already running" and "health check failed" as their own exit codes.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/cell0os/core/cmd.Version=v1.0.0"
var Version = "dev"

// Exit codes per the CLI surface's contract: 0 ok, 1 misuse (bad flags/
// args), 2 config invalid, 3 not running, 4 already running, 5 health
// check failed.
const (
	exitOK             = 0
	exitMisuse         = 1
	exitConfigInvalid  = 2
	exitNotRunning     = 3
	exitAlreadyRunning = 4
	exitHealthFail     = 5
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cell0",
	Short: "Cell 0 OS — sovereign agent gateway",
	Long:  "Cell 0 OS: a self-hosted, multi-channel gateway that governs every agent action through STOP -> CLASSIFY -> LOAD -> APPLY -> EXECUTE before it reaches the outside world.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $CELL0_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(checkpointCmd())
	rootCmd.AddCommand(configCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cell0 %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("CELL0_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// exitError carries a specific process exit code alongside the message
// cobra prints, so Execute can propagate it instead of the teacher's
// flat os.Exit(1)-on-any-error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, err error) error { return &exitError{code: code, err: err} }

// Execute runs the root cobra command, translating an *exitError into its
// carried process exit code and any other error into exitMisuse.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cell0:", err)
		if ee, ok := err.(*exitError); ok {
			os.Exit(ee.code)
		}
		os.Exit(exitMisuse)
	}
}
