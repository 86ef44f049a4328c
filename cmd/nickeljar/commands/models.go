package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/ollama"
)

// newModelsCmd creates the `nickeljar models` command group.
func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage models on the completion service",
		Long: `List or download models on the configured completion service.

Examples:
  nickeljar models list
  nickeljar models pull llama3.2:latest`,
	}

	cmd.AddCommand(newModelsListCmd(), newModelsPullCmd())
	return cmd
}

func newModelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			client := ollama.NewClient(cfg.Completion, logger)

			models, err := client.ListModels(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing models: %w", err)
			}
			if len(models) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No models installed. Use 'nickeljar models pull <name>'.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED\t")
			for _, m := range models {
				marker := ""
				if m.Name == client.Model() {
					marker = " (default)"
				}
				fmt.Fprintf(w, "%s%s\t%s\t%s\t\n", m.Name, marker, humanSize(m.Size), m.ModifiedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func newModelsPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull [model]",
		Short: "Download a model (default: the configured model)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			client := ollama.NewClient(cfg.Completion, logger)

			name := client.Model()
			if len(args) == 1 {
				name = args[0]
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Pulling %s...\n", name)
			status, err := client.PullModel(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("pulling %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, status)
			return nil
		},
	}
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
