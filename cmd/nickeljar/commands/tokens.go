package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/tokenizer"
)

// newTokensCmd creates the `nickeljar tokens` command group.
func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect how text is tokenized",
	}
	cmd.AddCommand(newTokensCountCmd())
	return cmd
}

func newTokensCountCmd() *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "count <text>",
		Short: "Print the token count of a text as one chat turn",
		Long: `Tokenize a text with the configured encoder and print its token count,
with and without the end-of-turn marker the context window adds.

Examples:
  nickeljar tokens count "hello there"
  nickeljar tokens count --show "hello there"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			tok, err := tokenizer.New(cfg.Tokenizer)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			units, err := tok.Tokenize(text)
			if err != nil {
				return err
			}
			turn, err := tok.CountTurn(text)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "encoder:  %s\n", tok.Name())
			fmt.Fprintf(out, "tokens:   %d\n", len(units))
			fmt.Fprintf(out, "turn:     %d\n", turn)
			fmt.Fprintf(out, "marker:   %s\n", tok.EndOfTurn())
			fmt.Fprintf(out, "budget:   %d\n", cfg.TokenBudget)
			if show {
				quoted := make([]string, len(units))
				for i, u := range units {
					quoted[i] = strconv.Quote(u)
				}
				fmt.Fprintf(out, "units:    %s\n", strings.Join(quoted, " "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the token units")
	return cmd
}
