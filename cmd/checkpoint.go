package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/pkg/protocol"
)

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Create or restore a sovereign+domain checkpoint",
	}
	cmd.AddCommand(checkpointCreateCmd())
	cmd.AddCommand(checkpointRestoreCmd())
	return cmd
}

func checkpointCreateCmd() *cobra.Command {
	var sovereignID, domain, reason string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Snapshot a sovereign's session state into a new checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sovereignID == "" || domain == "" {
				return fail(exitMisuse, fmt.Errorf("--sovereign and --domain are required"))
			}
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fail(exitConfigInvalid, err)
			}
			raw, err := callMethod(cfg, protocol.MethodCheckpointCreate, map[string]string{
				"sovereignId": sovereignID,
				"domain":      domain,
				"reason":      reason,
			})
			if err != nil {
				return fail(exitNotRunning, err)
			}
			var result struct {
				CheckpointID string `json:"checkpointId"`
			}
			if err := json.Unmarshal(raw, &result); err != nil {
				return fail(exitMisuse, err)
			}
			fmt.Println(result.CheckpointID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sovereignID, "sovereign", "", "sovereign id to checkpoint")
	cmd.Flags().StringVar(&domain, "domain", "", "domain to checkpoint")
	cmd.Flags().StringVar(&reason, "reason", "manual checkpoint", "reason recorded alongside the checkpoint")
	return cmd
}

func checkpointRestoreCmd() *cobra.Command {
	var checkpointID string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore session state from a checkpoint id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkpointID == "" {
				return fail(exitMisuse, fmt.Errorf("--id is required"))
			}
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fail(exitConfigInvalid, err)
			}
			if _, err := callMethod(cfg, protocol.MethodCheckpointRestore, map[string]string{
				"checkpointId": checkpointID,
			}); err != nil {
				return fail(exitNotRunning, err)
			}
			fmt.Println("restored")
			return nil
		},
	}
	cmd.Flags().StringVar(&checkpointID, "id", "", "checkpoint id to restore")
	return cmd
}
