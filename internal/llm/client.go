// Package llm provides the chat-completion client used for metric extraction
// and validation, with model fallback and retry on transient failures.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meridianlabs/valuation-engine/internal/observability"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request. When Model is empty the client walks its
// configured fallback chain.
type Request struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Completer produces a chat completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config holds completion-client configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	Models     []string // fallback chain, tried in order
	Timeout    time.Duration
	MaxRetries int
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	httpClient *http.Client
	logger     *observability.Logger
	baseURL    string
	apiKey     string
	models     []string
	maxRetries int
}

// NewClient creates a completion client.
func NewClient(logger *observability.Logger, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("at least one model is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithComponent("llm"),
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		models:     cfg.Models,
		maxRetries: maxRetries,
	}, nil
}

// Complete runs the request, falling back through the model chain when a
// model fails after retries. The first model to answer wins.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	models := c.models
	if req.Model != "" {
		models = []string{req.Model}
	}

	var lastErr error
	for _, model := range models {
		content, err := c.completeWithModel(ctx, model, req)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn().
			Str("model", model).
			Err(err).
			Msg("Model failed, falling back to next in chain")
	}
	return "", fmt.Errorf("all models failed: %w", lastErr)
}

func (c *Client) completeWithModel(ctx context.Context, model string, req Request) (string, error) {
	payload := Request{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var content string
	err = retryWithBackoff(ctx, c.maxRetries, func() (bool, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return false, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return true, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return true, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return isRetryableStatus(resp.StatusCode),
				fmt.Errorf("completion returned status %d: %s", resp.StatusCode, truncate(respBody, 200))
		}

		var parsed struct {
			Choices []struct {
				Message Message `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return false, fmt.Errorf("unmarshal response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return false, fmt.Errorf("completion returned no choices")
		}
		content = parsed.Choices[0].Message.Content
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Completer = (*Client)(nil)
