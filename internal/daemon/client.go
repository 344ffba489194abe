// Package daemon provides an HTTP client for the local model-serving
// daemon (Ollama-compatible API).
package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/drover-project/drover/internal/config"
)

// ModelInfo describes one model known to the daemon.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	ModifiedAt time.Time `json:"modified_at"`
}

// GenerateRequest is a prompt sent to the daemon's generate endpoint.
type GenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// GenerateResponse is the daemon's non-streaming generate reply.
type GenerateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"created_at"`
}

// PullUpdate is one line of the daemon's streaming pull response.
type PullUpdate struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client talks to the local model-serving daemon.
type Client struct {
	baseURL string

	// probeClient uses a short timeout so reachability checks never
	// hold up a health response.
	probeClient    *http.Client
	requestClient  *http.Client
	generateClient *http.Client
	pullClient     *http.Client
}

// NewClient creates a daemon client from configuration.
func NewClient(cfg *config.DaemonConfig) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL:        cfg.URL(),
		probeClient:    &http.Client{Timeout: time.Duration(cfg.ProbeTimeout) * time.Second, Transport: transport},
		requestClient:  &http.Client{Timeout: time.Duration(cfg.RequestTimeout) * time.Second, Transport: transport},
		generateClient: &http.Client{Timeout: time.Duration(cfg.GenerateTimeout) * time.Second, Transport: transport},
		pullClient:     &http.Client{Timeout: time.Duration(cfg.PullTimeout) * time.Second, Transport: transport},
	}
}

// BaseURL returns the daemon's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Reachable probes the daemon's tags endpoint with a short timeout.
// Any connection failure or non-200 counts as unreachable.
func (c *Client) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// ListModels returns the models currently known to the daemon.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.requestClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status listing models: %s", resp.Status)
	}

	var result struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	return result.Models, nil
}

// IsModelAvailable reports whether the named model is present. Names
// match on the full "name:tag" form or on the bare base name.
func (c *Client) IsModelAvailable(ctx context.Context, model string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}

	want := baseName(model)
	for _, m := range models {
		if m.Name == model || baseName(m.Name) == want {
			return true, nil
		}
	}
	return false, nil
}

// Version returns the daemon's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.requestClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get version: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status getting version: %s", resp.Status)
	}

	var result struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode version: %w", err)
	}
	return result.Version, nil
}

// Pull streams a model download through the daemon's pull endpoint and
// invokes onLine for each status line, in order. It returns when the
// stream ends or ctx is cancelled.
func (c *Client) Pull(ctx context.Context, model string, onLine func(PullUpdate)) error {
	body, err := json.Marshal(map[string]interface{}{
		"name":   model,
		"stream": true,
	})
	if err != nil {
		return fmt.Errorf("failed to encode pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.pullClient.Do(req)
	if err != nil {
		return fmt.Errorf("pull request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pull rejected: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var update PullUpdate
		if err := json.Unmarshal([]byte(line), &update); err != nil {
			// Not a stable schema: pass unparseable lines through as
			// raw status text.
			update = PullUpdate{Status: line}
		}
		if update.Error != "" {
			onLine(update)
			return fmt.Errorf("pull failed: %s", update.Error)
		}
		onLine(update)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("pull stream error: %w", err)
	}
	return nil
}

// Generate sends a non-streaming prompt to the daemon.
func (c *Client) Generate(ctx context.Context, reqBody *GenerateRequest) (*GenerateResponse, error) {
	reqBody.Stream = false

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.generateClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("generate rejected: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var result GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode generate response: %w", err)
	}
	return &result, nil
}

// baseName strips the ":tag" suffix from a model name.
func baseName(model string) string {
	if idx := strings.Index(model, ":"); idx >= 0 {
		return model[:idx]
	}
	return model
}
