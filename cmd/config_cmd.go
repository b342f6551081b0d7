package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/cell0os/core/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the gateway's config.json",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

// configInitCmd walks a first-run operator through the handful of
// choices that can't be reasonably defaulted — everything else (scan
// range, intervals, buffer sizes) keeps config.Default()'s values, edited
// later by hand in config.json if needed.
func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively generate a starting config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit()
		},
	}
}

func runConfigInit() error {
	cfg := config.Default()

	var stateDirIn, portIn string
	var enableTelegram, enableDiscord, enableSlack, enableWebChat bool
	var metaEnabled bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("State directory").
				Description("Root of the on-disk layout (sessions, checkpoints, ethics audit log).").
				Placeholder("~/.cell0os").
				Value(&stateDirIn),
			huh.NewInput().
				Title("Gateway port").
				Placeholder(fmt.Sprintf("%d", cfg.Gateway.Port)).
				Value(&portIn).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					var p int
					if _, err := fmt.Sscanf(s, "%d", &p); err != nil || p <= 0 || p > 65535 {
						return fmt.Errorf("enter a port between 1 and 65535")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Enable the Telegram adapter?").Value(&enableTelegram),
			huh.NewConfirm().Title("Enable the Discord adapter?").Value(&enableDiscord),
			huh.NewConfirm().Title("Enable the Slack adapter?").Value(&enableSlack),
			huh.NewConfirm().Title("Enable the built-in webchat adapter?").Value(&enableWebChat),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the meta-agent self-improvement loop?").
				Description("Runs on the meta_agent.cron schedule (default every 5 minutes), governed by the same ethics consensus as any other intent.").
				Value(&metaEnabled),
		),
	)
	if err := form.Run(); err != nil {
		return fail(exitMisuse, err)
	}

	if stateDirIn != "" {
		cfg.Memory.StateDir = stateDirIn
	}
	if portIn != "" {
		fmt.Sscanf(portIn, "%d", &cfg.Gateway.Port)
	}
	cfg.Channels.Telegram.Enabled = enableTelegram
	cfg.Channels.Discord.Enabled = enableDiscord
	cfg.Channels.Slack.Enabled = enableSlack
	cfg.Channels.WebChat.Enabled = enableWebChat
	cfg.MetaAgent.Enabled = metaEnabled

	if err := cfg.Validate(); err != nil {
		return fail(exitConfigInvalid, err)
	}

	path := resolveConfigPath()
	if err := config.Save(path, cfg); err != nil {
		return fail(exitMisuse, fmt.Errorf("save config: %w", err))
	}
	fmt.Printf("wrote %s — remember to set CELL0_ADMIN_TOKEN and any channel tokens via environment variables, never in this file\n", path)
	return nil
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file without starting the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fail(exitConfigInvalid, err)
			}
			if err := cfg.Validate(); err != nil {
				return fail(exitConfigInvalid, err)
			}
			fmt.Println("config valid")
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config (secrets never included)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fail(exitConfigInvalid, err)
			}
			snap := cfg.Snapshot()
			data, err := json.MarshalIndent(&snap, "", "  ")
			if err != nil {
				return fail(exitMisuse, err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
}
