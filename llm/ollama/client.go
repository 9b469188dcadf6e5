// Package ollama talks to a local Ollama server through its native API.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/dhcgn/inbox-triage/llm"
)

// DefaultBaseURL is the address `ollama serve` listens on.
const DefaultBaseURL = "http://localhost:11434"

var _ llm.Client = (*Client)(nil)

type Client struct {
	api    *api.Client
	logger *slog.Logger
}

// New creates a client for baseURL. timeout bounds every HTTP exchange.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base url %q: %w", baseURL, err)
	}
	httpClient := &http.Client{Timeout: timeout}
	return &Client{api: api.NewClient(u, httpClient), logger: logger}, nil
}

func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, prettifyConnectionError(err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

func (c *Client) IsReachable(ctx context.Context) bool {
	if err := c.api.Heartbeat(ctx); err != nil {
		if c.logger != nil {
			c.logger.Warn("ollama heartbeat failed", "err", prettifyConnectionError(err))
		}
		return false
	}
	return true
}

// Complete streams a chat completion and returns the concatenated answer.
func (c *Client) Complete(ctx context.Context, model, prompt string) (string, error) {
	stream := true
	req := &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Options:  map[string]any{"temperature": 0},
	}

	var (
		sb     strings.Builder
		chunks int
	)
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		chunks++
		return nil
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return "", fmt.Errorf("model %q not found, pull it with `ollama pull %s`: %w", model, model, err)
		}
		return "", prettifyConnectionError(err)
	}

	if c.logger != nil {
		c.logger.Debug("ollama response", "model", model, "chunks", chunks, "content", sb.String())
	}
	return sb.String(), nil
}

func prettifyConnectionError(err error) error {
	if err == nil {
		return nil
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) && netErr.Op == "dial" {
		return fmt.Errorf("ollama is not running: %w", err)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("ollama is not running: %w", err)
	}
	return err
}
