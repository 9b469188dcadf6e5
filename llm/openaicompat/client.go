// Package openaicompat talks to any local server that exposes the OpenAI
// chat completions API (Ollama's /v1 endpoint, llama.cpp, LM Studio, vLLM).
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dhcgn/inbox-triage/llm"
)

const DefaultBaseURL = "http://localhost:11434/v1/"

var _ llm.Client = (*Client)(nil)

type Client struct {
	client *openai.Client
	logger *slog.Logger
}

func New(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	client := openai.NewClient(opts...)
	return &Client{client: &client, logger: logger}
}

func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, prettifyConnectionError(err)
	}
	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

func (c *Client) IsReachable(ctx context.Context) bool {
	if _, err := c.client.Models.List(ctx); err != nil {
		if c.logger != nil {
			c.logger.Warn("model server probe failed", "err", prettifyConnectionError(err))
		}
		return false
	}
	return true
}

func (c *Client) Complete(ctx context.Context, model, prompt string) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       shared.ChatModel(model),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", prettifyConnectionError(err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("model %s returned no completion choices", model)
	}
	return completion.Choices[0].Message.Content, nil
}

func prettifyConnectionError(err error) error {
	if err == nil {
		return nil
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) && netErr.Op == "dial" {
		return fmt.Errorf("model server is not running: %w", err)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("model server is not running: %w", err)
	}
	return err
}
