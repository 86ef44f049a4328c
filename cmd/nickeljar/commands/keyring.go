package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/copilot"
)

// newKeyringCmd creates the `nickeljar keyring` command group that manages
// the Discord token in the OS keyring.
func newKeyringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Store or remove the Discord token in the OS keyring",
		Long: `Manage the Discord bot token in the operating system keyring.
The token is resolved from NICKELJAR_DISCORD_TOKEN or DISCORD_TOKEN first,
then from the keyring, then from discord.token in the config file.

Examples:
  nickeljar keyring set
  nickeljar keyring delete`,
	}

	cmd.AddCommand(newKeyringSetCmd(), newKeyringDeleteCmd())
	return cmd
}

func newKeyringSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Prompt for the Discord token and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := copilot.ReadPassword("Discord bot token: ")
			if err != nil {
				return err
			}
			if token == "" {
				return errors.New("empty token, nothing stored")
			}
			if err := copilot.StoreKeyring(copilot.KeyringDiscordToken, token); err != nil {
				return fmt.Errorf("storing token in keyring: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Discord token stored in the OS keyring.")
			return nil
		},
	}
}

func newKeyringDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the Discord token from the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := copilot.DeleteKeyring(copilot.KeyringDiscordToken); err != nil {
				return fmt.Errorf("deleting token from keyring: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Discord token removed from the OS keyring.")
			return nil
		},
	}
}
