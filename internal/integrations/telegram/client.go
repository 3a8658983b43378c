// Package telegram is a minimal Bot API client and long-polling bot loop.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	// maxMessageRunes is the Bot API limit on message text length.
	maxMessageRunes = 4096
	maxResponseSize = 1 << 20
)

// User is the sender of a message.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
	Date      int64  `json:"date"`
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type response struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result"`
}

// APIError is returned when the Bot API answers ok=false or a non-2xx status.
type APIError struct {
	StatusCode  int
	Method      string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed with status %d: %s", e.Method, e.StatusCode, e.Description)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithAPIBase overrides the Bot API host, mainly for tests.
func WithAPIBase(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient creates a client for the bot identified by token.
func NewClient(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram: token must not be empty")
	}
	c := &Client{baseURL: defaultAPIBase, httpClient: &http.Client{Timeout: 90 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = c.baseURL + "/bot" + token
	return c, nil
}

// GetUpdates long-polls for updates after offset. timeout is in seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))
	params.Set("allowed_updates", `["message"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: build getUpdates request: %w", err)
	}
	var updates []Update
	if err := c.do(req, "getUpdates", &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends text to chatID, split into several messages when it is
// longer than the Bot API allows.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, part := range splitText(text, maxMessageRunes) {
		if err := c.post(ctx, "sendMessage", map[string]any{"chat_id": chatID, "text": part}); err != nil {
			return err
		}
	}
	return nil
}

// SendTyping shows the typing indicator in chatID.
func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	return c.post(ctx, "sendChatAction", map[string]any{"chat_id": chatID, "action": "typing"})
}

func (c *Client) post(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, nil)
}

func (c *Client) do(req *http.Request, method string, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}
	var tg response
	if err := json.Unmarshal(raw, &tg); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{StatusCode: resp.StatusCode, Method: method, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !tg.OK || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Method: method, Description: tg.Description}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(tg.Result, result); err != nil {
		return fmt.Errorf("telegram: decode %s result: %w", method, err)
	}
	return nil
}

// splitText cuts s into pieces of at most limit runes, preferring to break
// after a newline.
func splitText(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
