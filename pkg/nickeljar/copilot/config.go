// Package copilot – config.go defines the configuration of the nickeljar agent.
package copilot

import (
	"errors"
	"fmt"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/channels/discord"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/database"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/lexicon"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/ollama"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/tokenizer"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/window"
)

// Config holds all agent configuration.
type Config struct {
	// Name is the display alias that replaces the bot mention in prompts.
	Name string `yaml:"name"`

	// Persona is the system prompt sent with every completion.
	Persona string `yaml:"persona"`

	// MentionTokens are extra literal strings that trigger a completion, in
	// addition to the platform mention of the bot (e.g. "@nickel").
	MentionTokens []string `yaml:"mention_tokens"`

	// TokenBudget is the per-channel context window size in tokens.
	TokenBudget int `yaml:"token_budget"`

	Tokenizer  tokenizer.Config `yaml:"tokenizer"`
	Completion ollama.Config    `yaml:"completion"`
	Database   database.Config  `yaml:"database"`
	Lexicon    LexiconConfig    `yaml:"lexicon"`
	Logging    LoggingConfig    `yaml:"logging"`
	Discord    discord.Config   `yaml:"discord"`
}

// LexiconConfig lists the flagged words. Words and File are merged.
type LexiconConfig struct {
	Words []string `yaml:"words"`

	// File is a word list with one word per line; '#' starts a comment line.
	File string `yaml:"file"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: info).
	Level string `yaml:"level"`

	// Format is "json" or "text". Empty picks text on a terminal, JSON otherwise.
	Format string `yaml:"format"`

	// File, when set, receives the logs through a rotating writer.
	File string `yaml:"file"`

	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:        "Nickel",
		Persona:     "You are Nickel, a friendly regular in this chat. Keep answers short and casual.",
		TokenBudget: window.DefaultBudget,
		Tokenizer:   tokenizer.DefaultConfig(),
		Completion:  ollama.DefaultConfig(),
		Database:    database.DefaultConfig(),
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Validate checks the settings every command depends on. Channel credentials
// are checked by the commands that connect.
func (c *Config) Validate() error {
	var errs []error
	if c.TokenBudget <= 0 {
		errs = append(errs, fmt.Errorf("token_budget must be positive, got %d", c.TokenBudget))
	}
	if c.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if c.Completion.Model == "" {
		errs = append(errs, errors.New("completion.model must not be empty"))
	}
	if c.Completion.Timeout < 0 {
		errs = append(errs, errors.New("completion.timeout must not be negative"))
	}
	if !database.Supports(c.Database.Effective().Backend) {
		errs = append(errs, fmt.Errorf("database.backend: %w: %q", database.ErrUnsupportedBackend, c.Database.Backend))
	}
	if len(c.Lexicon.Words) == 0 && c.Lexicon.File == "" {
		errs = append(errs, errors.New("lexicon: no words configured (set lexicon.words or lexicon.file)"))
	}
	return errors.Join(errs...)
}

// LoadLexicon builds the lexicon from the configured words and file. An empty
// result is an error.
func (c *Config) LoadLexicon() (*lexicon.Lexicon, error) {
	words := append([]string(nil), c.Lexicon.Words...)
	if c.Lexicon.File != "" {
		fromFile, err := lexicon.Load(c.Lexicon.File)
		if err != nil {
			return nil, err
		}
		words = append(words, fromFile.Words()...)
	}
	lex := lexicon.New(words...)
	if lex.Len() == 0 {
		return nil, errors.New("lexicon is empty")
	}
	return lex, nil
}
