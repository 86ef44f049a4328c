package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/database"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/database/backends"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/ollama"
)

type healthReport struct {
	Status     string           `json:"status"`
	Version    string           `json:"version"`
	Store      database.Status  `json:"store"`
	Backend    *backends.Status `json:"backend,omitempty"`
	Completion completionHealth `json:"completion"`
}

type completionHealth struct {
	URL            string `json:"url"`
	Reachable      bool   `json:"reachable"`
	Model          string `json:"model"`
	ModelInstalled bool   `json:"model_installed"`
	Error          string `json:"error,omitempty"`
}

// newHealthCmd creates the `nickeljar health` command. Used by container
// health checks and monitoring.
func newHealthCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the store and the completion service",
		Long: `Connect to the configured store and completion service once and print
a JSON report. Exits non-zero when either is unavailable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report := healthReport{Status: "ok", Version: cmd.Root().Version}

			store := database.NewConnector(cfg.Database, logger)
			report.Store, report.Backend = checkStore(ctx, store)
			if report.Backend == nil || !report.Backend.Healthy {
				report.Status = "degraded"
			}

			client := ollama.NewClient(cfg.Completion, logger)
			report.Completion = checkCompletion(ctx, client, cfg.Completion.BaseURL)
			if !report.Completion.Reachable || !report.Completion.ModelInstalled {
				report.Status = "degraded"
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if report.Status != "ok" {
				return errors.New("unhealthy")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall time limit for the checks")
	return cmd
}

// checkStore connects once and asks the backend for its status. The backend
// status is nil when no connection could be made.
func checkStore(ctx context.Context, store *database.Connector) (database.Status, *backends.Status) {
	defer store.Close()

	if err := store.EnsureConnected(ctx); err != nil {
		return store.Status(), nil
	}
	bs, err := store.BackendStatus(ctx)
	if err != nil {
		return store.Status(), nil
	}
	return store.Status(), &bs
}

func checkCompletion(ctx context.Context, client *ollama.Client, url string) completionHealth {
	h := completionHealth{URL: url, Model: client.Model()}
	models, err := client.ListModels(ctx)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Reachable = true
	h.ModelInstalled = slices.ContainsFunc(models, func(m ollama.Model) bool {
		return m.Name == h.Model || m.Model == h.Model
	})
	return h
}
