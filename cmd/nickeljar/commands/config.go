package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/copilot"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/database/backends"
)

const redacted = "********"

// newConfigCmd creates the `nickeljar config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
		Long: `Inspect the effective nickeljar configuration.

Examples:
  nickeljar config show
  nickeljar config validate --config ./config.yaml`,
	}

	cmd.AddCommand(newConfigShowCmd(), newConfigValidateCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(redactConfig(cfg))
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			if path == "" {
				path = "(defaults)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n%s", path, out)
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the lexicon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			lex, err := cfg.LoadLexicon()
			if err != nil {
				return fmt.Errorf("loading lexicon: %w", err)
			}
			if path == "" {
				path = "(defaults)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d lexicon words)\n", path, lex.Len())
			return nil
		},
	}
}

// redactConfig returns a copy of cfg without secrets.
func redactConfig(cfg *copilot.Config) *copilot.Config {
	out := *cfg
	if out.Discord.Token != "" && !copilot.IsEnvReference(out.Discord.Token) {
		out.Discord.Token = redacted
	}
	if out.Database.PostgreSQL.Password != "" && !copilot.IsEnvReference(out.Database.PostgreSQL.Password) {
		out.Database.PostgreSQL.Password = redacted
	}
	if out.Database.PostgreSQL.URL != "" {
		out.Database.PostgreSQL.URL = backends.RedactDSN(out.Database.PostgreSQL.URL)
	}
	return &out
}
