package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/lexicon"
)

// newClassifyCmd creates the `nickeljar classify` command that counts flagged
// words in a text without touching the store.
func newClassifyCmd() *cobra.Command {
	var extra []string

	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Count flagged words in a text",
		Long: `Run the lexicon classifier on a text and print the matched words.

Examples:
  nickeljar classify "3 NICKELS!! nickels nickels"
  nickeljar classify --word penny "a penny saved"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg.Lexicon.Words = append(cfg.Lexicon.Words, extra...)
			lex, err := cfg.LoadLexicon()
			if err != nil {
				return fmt.Errorf("loading lexicon: %w", err)
			}

			occ, err := lexicon.Classify(strings.Join(args, " "), lex)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(occ) == 0 {
				fmt.Fprintln(out, "No flagged words.")
				return nil
			}
			for _, w := range occ.Words() {
				fmt.Fprintf(out, "%-20s %d\n", w, occ[w])
			}
			fmt.Fprintf(out, "%-20s %d\n", "total", occ.Total())
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&extra, "word", "w", nil, "additional flagged words")
	return cmd
}
