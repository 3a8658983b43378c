package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultTimeout = 30 * time.Second
)

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// HTTPStatusError captures non-2xx responses from the embedding server.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("ollama: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Client calls the Ollama embeddings endpoint.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(baseURL); s != "" {
			c.baseURL = s
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates an embedding client for model.
func NewClient(model string, opts ...Option) (*Client, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("ollama: embedding model must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return c, nil
}

func embeddingsURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/api/embeddings"
}

// Embed returns the embedding of text exactly as given. Callers own any
// model-specific prefix.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	url := embeddingsURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: strings.TrimSpace(string(buf))}
	}

	var parsed embedResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 8<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, errors.New("ollama: response returned empty vector")
	}
	return parsed.Embedding, nil
}
