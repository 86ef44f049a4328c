package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/database"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/lexicon"
)

// newJarCmd creates the `nickeljar jar` command that reads the occurrence
// store.
func newJarCmd() *cobra.Command {
	var (
		guild   string
		word    string
		limit   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "jar",
		Short: "Show what is in the jar for a guild",
		Long: `Print the most frequent flagged words recorded for a guild, or the
count of a single word with --word. Direct messages are recorded under the
guild "direct".

Examples:
  nickeljar jar --guild "Coin Club"
  nickeljar jar --guild "Coin Club" --word nickels
  nickeljar jar --guild direct --limit 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			store := database.NewConnector(cfg.Database, logger)
			defer store.Close()
			if err := store.EnsureConnected(ctx); err != nil {
				return fmt.Errorf("connecting store: %w", err)
			}

			out := cmd.OutOrStdout()
			if word != "" {
				word = strings.TrimSpace(lexicon.Normalize(word))
				n, err := store.CountOccurrences(ctx, guild, word)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d\n", word, n)
				return nil
			}

			rows, err := store.TopWords(ctx, guild, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintf(out, "The jar for %q is empty.\n", guild)
				return nil
			}

			total, err := store.CountOccurrences(ctx, guild, "")
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WORD\tCOUNT\t")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t\n", r.Word, r.Count)
			}
			fmt.Fprintf(w, "total\t%d\t\n", total)
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&guild, "guild", "g", "", "guild name (\"direct\" for direct messages)")
	cmd.Flags().StringVarP(&word, "word", "w", "", "count a single word")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of words to list")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "time limit for connecting and querying")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}
