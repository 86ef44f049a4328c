// Package tokenizer wraps subword tokenizers behind a small interface used to
// measure conversation turns against a token budget.
//
// Two encoders are available:
//   - "tiktoken-go" (default): github.com/tiktoken-go/tokenizer, vocabularies
//     embedded in the binary.
//   - "tiktoken": github.com/weaviate/tiktoken-go.
package tokenizer

import (
	"errors"
	"fmt"
	"unicode/utf8"

	tkgo "github.com/tiktoken-go/tokenizer"
	tiktoken "github.com/weaviate/tiktoken-go"
)

// ErrMalformedContent is returned for text the encoder cannot accept.
var ErrMalformedContent = errors.New("tokenizer: malformed content")

// Backend names an encoder implementation.
type Backend string

const (
	BackendTiktokenGo Backend = "tiktoken-go"
	BackendTiktoken   Backend = "tiktoken"
)

// DefaultEndOfTurn is the marker appended to every turn.
const DefaultEndOfTurn = "<|endoftext|>"

// Tokenizer splits text into ordered token units.
type Tokenizer interface {
	// Tokenize returns the token units of text, in order.
	Tokenize(text string) ([]string, error)

	// CountTurn returns the number of tokens of text plus one end-of-turn marker.
	CountTurn(text string) (int, error)
}

// Config selects and parameterizes the encoder.
type Config struct {
	// Backend is "tiktoken-go" (default) or "tiktoken".
	Backend Backend `yaml:"backend"`

	// Encoding is the BPE vocabulary name (default: "cl100k_base").
	Encoding string `yaml:"encoding"`

	// EndOfTurn is the marker unit appended to each turn.
	EndOfTurn string `yaml:"end_of_turn"`
}

// DefaultConfig returns the default tokenizer configuration.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendTiktokenGo,
		Encoding:  "cl100k_base",
		EndOfTurn: DefaultEndOfTurn,
	}
}

// Effective returns a copy with defaults filled in for zero fields.
func (c Config) Effective() Config {
	out := c
	def := DefaultConfig()
	if out.Backend == "" {
		out.Backend = def.Backend
	}
	if out.Encoding == "" {
		out.Encoding = def.Encoding
	}
	if out.EndOfTurn == "" {
		out.EndOfTurn = def.EndOfTurn
	}
	return out
}

// encodeFunc turns text into token units.
type encodeFunc func(text string) ([]string, error)

// Adapter implements Tokenizer on top of an encoder.
type Adapter struct {
	name      string
	encode    encodeFunc
	endOfTurn string
}

// New builds the adapter selected by cfg.
func New(cfg Config) (*Adapter, error) {
	cfg = cfg.Effective()

	var (
		enc encodeFunc
		err error
	)
	switch cfg.Backend {
	case BackendTiktokenGo:
		enc, err = newTiktokenGo(cfg.Encoding)
	case BackendTiktoken:
		enc, err = newTiktoken(cfg.Encoding)
	default:
		return nil, fmt.Errorf("tokenizer: unsupported backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return &Adapter{
		name:      string(cfg.Backend) + "/" + cfg.Encoding,
		encode:    enc,
		endOfTurn: cfg.EndOfTurn,
	}, nil
}

// Name identifies the backend and encoding, e.g. "tiktoken-go/cl100k_base".
func (a *Adapter) Name() string { return a.name }

// EndOfTurn returns the marker appended by TokenizeTurn.
func (a *Adapter) EndOfTurn() string { return a.endOfTurn }

// Tokenize returns the token units of text.
func (a *Adapter) Tokenize(text string) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrMalformedContent)
	}
	if text == "" {
		return nil, nil
	}
	return a.encode(text)
}

// TokenizeTurn returns the token units of text followed by the end-of-turn marker.
func (a *Adapter) TokenizeTurn(text string) ([]string, error) {
	tokens, err := a.Tokenize(text)
	if err != nil {
		return nil, err
	}
	return append(tokens, a.endOfTurn), nil
}

// CountTurn returns len(TokenizeTurn(text)).
func (a *Adapter) CountTurn(text string) (int, error) {
	tokens, err := a.TokenizeTurn(text)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

func newTiktokenGo(encoding string) (encodeFunc, error) {
	codec, err := tkgo.Get(tkgo.Encoding(encoding))
	if err != nil {
		return nil, fmt.Errorf("tokenizer: loading encoding %q: %w", encoding, err)
	}
	return func(text string) ([]string, error) {
		_, tokens, err := codec.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
		}
		return tokens, nil
	}, nil
}

func newTiktoken(encoding string) (encodeFunc, error) {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: loading encoding %q: %w", encoding, err)
	}
	return func(text string) ([]string, error) {
		ids := tke.Encode(text, nil, nil)
		tokens := make([]string, len(ids))
		for i, id := range ids {
			tokens[i] = tke.Decode([]int{id})
		}
		return tokens, nil
	}, nil
}
