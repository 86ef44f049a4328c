package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/copilot"
)

// loadConfig resolves the --config flag, falling back to discovery and then
// to the defaults.
func loadConfig(cmd *cobra.Command) (*copilot.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	cfg, path, err := copilot.LoadConfig(configPath)
	if err != nil {
		if path != "" {
			return nil, "", fmt.Errorf("loading config from %s: %w", path, err)
		}
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// prepare loads the configuration and the logger for a one-shot command.
// cleanup closes the log file.
func prepare(cmd *cobra.Command) (cfg *copilot.Config, logger *slog.Logger, cleanup func(), err error) {
	cfg, _, err = loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := setupLogger(cmd, cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, func() { _ = closer.Close() }, nil
}

// setupLogger builds the process logger from the logging section and the
// global flags and installs it as the slog default. The returned closer
// flushes the log file, if any.
func setupLogger(cmd *cobra.Command, cfg copilot.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level := cfg.Level
	if flag, _ := cmd.Root().PersistentFlags().GetString("log-level"); flag != "" {
		level = flag
	}
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = "debug"
	}

	logger, closer, err := newLogger(cfg, level, os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, closer, nil
}

// newLogger creates the handler for out, or for a rotating file when
// cfg.File is set.
func newLogger(cfg copilot.LoggingConfig, level string, out io.Writer, tty bool) (*slog.Logger, io.Closer, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = rotator
		closer = rotator
		tty = false
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
		if tty {
			format = "text"
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q (want json or text)", cfg.Format)
	}
	return slog.New(handler), closer, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
