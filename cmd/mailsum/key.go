package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsum/internal/credential"
	"github.com/nhle/mailsum/internal/prompt"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the remote summarizer API key in the system keyring",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set",
			Short: "Store the API key (prompted, never echoed)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				key, err := prompt.APIKey()
				if err != nil {
					return err
				}
				if err := credential.Set(credential.APIKeyName, key); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "API key stored.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the stored API key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := credential.Delete(credential.APIKeyName); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "API key removed.")
				return nil
			},
		},
	)

	return cmd
}
