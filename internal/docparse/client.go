// Package docparse provides the client for the external document-parsing
// service, which turns a PDF into page-grouped text plus detected visual
// elements.
package docparse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// ElementType classifies a detected visual element.
type ElementType string

const (
	ElementTable ElementType = "table"
	ElementChart ElementType = "chart"
	ElementImage ElementType = "image"
)

// Page is one page of extracted text.
type Page struct {
	Number int    `json:"number"` // 1-based
	Text   string `json:"text"`
}

// VisualElement is a table, chart, or image detected by the parsing service.
type VisualElement struct {
	ID          string               `json:"id"`
	Type        ElementType          `json:"type"`
	Page        int                  `json:"page"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Content     string               `json:"content,omitempty"`
	Rows        int                  `json:"rows,omitempty"`
	Columns     int                  `json:"columns,omitempty"`
	Series      map[string][]float64 `json:"series,omitempty"`
	Confidence  float64              `json:"confidence"`
}

// Result is the structured output of a parse call.
type Result struct {
	Pages    []Page          `json:"pages"`
	Elements []VisualElement `json:"elements"`
}

// Parser parses a PDF binary into pages and visual elements.
type Parser interface {
	Parse(ctx context.Context, filename string, data []byte) (*Result, error)
}

// Client calls the parsing service over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Config holds parsing-service client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient creates a new parsing-service client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}, nil
}

// Parse uploads the PDF and decodes the service's structured response.
func (c *Client) Parse(ctx context.Context, filename string, data []byte) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("parse service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &result, nil
}

var _ Parser = (*Client)(nil)
