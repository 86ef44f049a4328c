package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Model describes a model available on the service.
type Model struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ListModels returns the models installed on the service (GET /api/tags).
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	endpoint := c.baseURL + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: creating request: %w", err)
	}

	var out struct {
		Models []Model `json:"models"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// PullModel asks the service to download a model (POST /api/pull) and waits
// for the final status.
func (c *Client) PullModel(ctx context.Context, name string) (string, error) {
	body, err := json.Marshal(map[string]any{"name": name, "stream": false})
	if err != nil {
		return "", fmt.Errorf("ollama: marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/api/pull"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", &ProtocolError{Reason: "service error: " + out.Error, Line: 1}
	}
	c.logger.Info("model pulled", "model", name, "status", out.Status)
	return out.Status, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	endpoint := req.URL.String()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "request", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransportError{
			Op:         "request",
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProtocolError{Reason: "invalid JSON response", Line: 1, Err: err}
	}
	return nil
}
