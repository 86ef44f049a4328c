// Package ollama implements a client for an Ollama-compatible completion
// service. Generate posts a prompt to /api/generate and assembles the
// newline-delimited JSON stream into one answer.
//
// Stream contract: objects are decoded in arrival order and each object's
// "response" fragment is appended. The first object with "done": true ends the
// answer and its fragment is included; nothing after it is read. A stream that
// ends without such an object is a *ProtocolError.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config configures the completion service endpoint.
type Config struct {
	// BaseURL of the service (default: "http://localhost:11434").
	BaseURL string `yaml:"base_url"`

	// Model used for completions (default: "llama3.2:latest").
	Model string `yaml:"model"`

	// Timeout bounds one Generate call. Zero disables the client-side limit.
	Timeout time.Duration `yaml:"timeout"`

	// Options are merged into every request body (temperature, max_tokens, ...).
	Options map[string]any `yaml:"options"`
}

// DefaultConfig returns the default completion service configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:11434",
		Model:   "llama3.2:latest",
		Timeout: 2 * time.Minute,
		Options: map[string]any{
			"temperature": 0.7,
			"max_tokens":  100,
		},
	}
}

// Request is one completion request.
type Request struct {
	Model  string
	Prompt string
	System string

	// Options are merged at the top level of the request body. Unknown keys
	// are passed through unchanged.
	Options map[string]any

	// OnFragment, when set, is called with every decoded fragment in order.
	OnFragment func(fragment string)
}

// Answer accumulates the fragments of one streamed response.
type Answer struct {
	Fragments []string
	Done      bool
}

// Text returns the concatenated fragments.
func (a *Answer) Text() string {
	return strings.Join(a.Fragments, "")
}

// streamChunk is one line of the /api/generate stream.
type streamChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Client talks to the completion service. It holds no per-call state.
type Client struct {
	baseURL    string
	model      string
	timeout    time.Duration
	options    map[string]any
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client from cfg.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = def.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = def.Model
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: cfg.Timeout,
		options: cfg.Options,
		httpClient: &http.Client{
			// Per-call deadlines come from the context; a global timeout would
			// cut long streams short.
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     120 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: logger.With("component", "ollama"),
	}
}

// Model returns the default model name.
func (c *Client) Model() string { return c.model }

// Generate sends req and returns the assembled answer text.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	ans, err := c.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	return ans.Text(), nil
}

// Stream sends req and returns the decoded answer.
func (c *Client) Stream(ctx context.Context, req Request) (*Answer, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	payload := map[string]any{
		"model":  model,
		"prompt": req.Prompt,
		"system": req.System,
	}
	for k, v := range c.options {
		payload[k] = v
	}
	for k, v := range req.Options {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	c.logger.Debug("sending generate request", "model", model, "prompt_len", len(req.Prompt))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "request", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{
			Op:         "request",
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	ans, err := decodeStream(resp.Body, req.OnFragment)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, &TransportError{Op: "read", URL: endpoint, Err: err}
	}

	c.logger.Info("generate done",
		"model", model,
		"fragments", len(ans.Fragments),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ans, nil
}

// decodeStream reads NDJSON chunks until the first done chunk. Read failures
// are returned as-is; malformed content is a *ProtocolError.
func decodeStream(r io.Reader, onFragment func(string)) (*Answer, error) {
	ans := &Answer{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return nil, &ProtocolError{Reason: "invalid JSON object", Line: line, Err: err}
		}
		if chunk.Error != "" {
			return nil, &ProtocolError{Reason: "service error: " + chunk.Error, Line: line}
		}

		ans.Fragments = append(ans.Fragments, chunk.Response)
		if onFragment != nil && chunk.Response != "" {
			onFragment(chunk.Response)
		}
		if chunk.Done {
			ans.Done = true
			return ans, nil
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, &ProtocolError{Reason: "line too long", Line: line + 1, Err: err}
		}
		return nil, err
	}
	return nil, &ProtocolError{Reason: "stream ended without done", Line: line}
}
