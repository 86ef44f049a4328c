package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/channels"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/channels/discord"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/copilot"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/database"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/ollama"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/tokenizer"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/window"
)

// newServeCmd creates the `nickeljar serve` command that starts the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and start handling messages",
		Long: `Start nickeljar as a long-running service. The store connection is
established first and retried until it succeeds; then Discord is connected and
messages are processed until SIGINT or SIGTERM.

Examples:
  nickeljar serve
  nickeljar serve --config ./config.yaml --log-level debug`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogger(cmd, cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	if path != "" {
		logger.Info("config loaded", "path", path)
	} else {
		logger.Info("no config file found, using defaults")
	}

	// ── Validate startup inputs ──
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	source, err := copilot.ResolveDiscordToken(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("discord token resolved", "source", source)

	lex, err := cfg.LoadLexicon()
	if err != nil {
		return fmt.Errorf("loading lexicon: %w", err)
	}
	tok, err := tokenizer.New(cfg.Tokenizer)
	if err != nil {
		return fmt.Errorf("creating tokenizer: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Store ──
	store := database.NewConnector(cfg.Database, logger)
	defer store.Close()

	if err := store.EnsureConnected(ctx); err != nil {
		if !errors.Is(err, database.ErrUnsupportedBackend) && ctx.Err() != nil {
			logger.Info("shutdown requested before the store connected")
			return nil
		}
		return fmt.Errorf("connecting store: %w", err)
	}

	probe, err := store.StartHealthProbe(ctx)
	if err != nil {
		return fmt.Errorf("starting store health probe: %w", err)
	}
	defer probe.Stop()

	// ── Channels ──
	mgr := channels.NewManager(logger)
	if err := mgr.Register(discord.New(cfg.Discord, logger)); err != nil {
		return err
	}
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}
	logChannelHealth(logger, mgr)

	// ── Event loop ──
	assistant := copilot.New(cfg, copilot.Deps{
		Window:    window.NewManager(tok, cfg.TokenBudget, logger),
		Completer: ollama.NewClient(cfg.Completion, logger),
		Recorder:  store,
		Replier:   mgr,
		Lexicon:   lex,
		Logger:    logger,
	})

	logger.Info("nickeljar running, press Ctrl+C to stop",
		"name", cfg.Name,
		"model", cfg.Completion.Model,
		"backend", cfg.Database.Effective().Backend,
		"tokenizer", tok.Name(),
	)

	loopErr := make(chan error, 1)
	go func() { loopErr <- assistant.Run(ctx, mgr.Messages()) }()

	select {
	case err = <-loopErr:
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping...")
		select {
		case err = <-loopErr:
		case <-time.After(10 * time.Second):
			logger.Warn("shutdown timed out after 10s, forcing exit")
		}
	}

	logChannelHealth(logger, mgr)
	mgr.Stop()
	if err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// logChannelHealth reports the counters of every registered channel.
func logChannelHealth(logger *slog.Logger, mgr *channels.Manager) {
	for name, h := range mgr.HealthAll() {
		attrs := []any{
			"channel", name,
			"connected", h.Connected,
			"errors", h.ErrorCount,
		}
		if !h.LastMessageAt.IsZero() {
			attrs = append(attrs, "last_message_at", h.LastMessageAt)
		}
		for k, v := range h.Details {
			attrs = append(attrs, k, v)
		}
		logger.Info("channel health", attrs...)
	}
}
