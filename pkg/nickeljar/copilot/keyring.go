// Package copilot – keyring.go stores the Discord bot token in the operating
// system's keyring (Linux: Secret Service, macOS: Keychain, Windows:
// Credential Manager).
//
// Priority for resolving the token:
//  1. Environment variable (NICKELJAR_DISCORD_TOKEN, then DISCORD_TOKEN;
//     .env files are loaded into the environment first)
//  2. OS keyring
//  3. config.yaml value
package copilot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "nickeljar"

	// KeyringDiscordToken is the keyring entry holding the bot token.
	KeyringDiscordToken = "discord_token"
)

// TokenEnvVars are checked in order for the Discord bot token.
var TokenEnvVars = []string{"NICKELJAR_DISCORD_TOKEN", "DISCORD_TOKEN"}

// ErrNoToken is returned when no Discord token source is set.
var ErrNoToken = errors.New("no Discord token found: set NICKELJAR_DISCORD_TOKEN, run 'nickeljar keyring set', or set discord.token")

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring. Returns "" if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// ResolveDiscordToken fills cfg.Discord.Token from the first source that has
// one and reports which source it was.
func ResolveDiscordToken(cfg *Config, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for _, name := range TokenEnvVars {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			cfg.Discord.Token = val
			logger.Debug("discord token loaded from environment", "var", name)
			return "env:" + name, nil
		}
	}

	if val := GetKeyring(KeyringDiscordToken); val != "" {
		cfg.Discord.Token = val
		logger.Debug("discord token loaded from OS keyring")
		return "keyring", nil
	}

	if cfg.Discord.Token != "" && !IsEnvReference(cfg.Discord.Token) {
		logger.Debug("discord token loaded from config")
		return "config", nil
	}

	cfg.Discord.Token = ""
	return "", ErrNoToken
}

// ReadPassword prompts on stdout and reads a secret from stdin without echo.
// Falls back to a plain line read when stdin is not a terminal.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	var buf [4096]byte
	n, err := os.Stdin.Read(buf[:])
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(string(buf[:n])), nil
}
