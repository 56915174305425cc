package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confhub/internal/encryption"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the confhub server",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := confClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", status)
		}

		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:               "keygen",
	Short:             "Generate a random encryption key for CONFHUB_ENCRYPTION_KEY",
	GroupID:           "system",
	Args:              cobra.NoArgs,
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := encryption.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}
