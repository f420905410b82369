// Package push delivers notifications through the Expo push service.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultEndpoint  = "https://exp.host/--/api/v2/push/send"
	DefaultChunkSize = 90
)

// Message is the notification payload sent to every token.
type Message struct {
	Title string
	Body  string
}

// Result counts tokens accepted and rejected by the transport.
type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Chunks int `json:"chunks"`
}

// Sender delivers one message to a set of device tokens.
type Sender interface {
	Send(ctx context.Context, tokens []string, msg Message) (Result, error)
}

// ErrAllChunksFailed is returned when not a single chunk was accepted.
var ErrAllChunksFailed = errors.New("push delivery failed for every chunk")

// Client is an Expo push client.
type Client struct {
	endpoint  string
	chunkSize int
	client    *http.Client
	log       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the Expo URL.
func WithEndpoint(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.endpoint = url
		}
	}
}

// WithChunkSize overrides how many tokens go into one request.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithLogger sets the logger used for per-chunk failures.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient creates an Expo client with a 15 second request timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint:  DefaultEndpoint,
		chunkSize: DefaultChunkSize,
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type expoMessage struct {
	To    string `json:"to"`
	Sound string `json:"sound"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

type expoResponse struct {
	Data   []expoTicket      `json:"data"`
	Errors []json.RawMessage `json:"errors,omitempty"`
}

// Chunk splits tokens into consecutive slices of at most size entries.
func Chunk(tokens []string, size int) [][]string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out [][]string
	for i := 0; i < len(tokens); i += size {
		end := min(i+size, len(tokens))
		out = append(out, tokens[i:end])
	}
	return out
}

// Send posts the message to every token, one request per chunk. A chunk is
// accepted when at least one of its tickets came back ok. A failing chunk is
// logged and counted; the remaining chunks are still sent. The error is
// non-nil only when no chunk was accepted.
func (c *Client) Send(ctx context.Context, tokens []string, msg Message) (Result, error) {
	var res Result
	if len(tokens) == 0 {
		return res, nil
	}

	var lastErr error
	accepted := 0
	for _, chunk := range Chunk(tokens, c.chunkSize) {
		res.Chunks++
		sent, err := c.sendChunk(ctx, chunk, msg)
		if err != nil {
			c.log.Warn("push chunk failed", zap.Int("tokens", len(chunk)), zap.Error(err))
			res.Failed += len(chunk)
			lastErr = err
			continue
		}
		res.Sent += sent
		res.Failed += len(chunk) - sent
		if sent == 0 {
			c.log.Warn("push chunk rejected", zap.Int("tokens", len(chunk)))
			lastErr = fmt.Errorf("all %d tickets rejected", len(chunk))
			continue
		}
		accepted++
	}

	if accepted == 0 {
		return res, fmt.Errorf("%w: %w", ErrAllChunksFailed, lastErr)
	}
	return res, nil
}

// sendChunk returns how many tickets in the chunk came back ok, never more
// than len(tokens).
func (c *Client) sendChunk(ctx context.Context, tokens []string, msg Message) (int, error) {
	payload := make([]expoMessage, len(tokens))
	for i, t := range tokens {
		payload[i] = expoMessage{To: t, Sound: "default", Title: msg.Title, Body: msg.Body}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post push chunk: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read push response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("push service returned status %d", resp.StatusCode)
	}

	var parsed expoResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Data) == 0 {
		// Accepted without readable tickets; treat the chunk as delivered.
		return len(tokens), nil
	}
	ok := 0
	for i, ticket := range parsed.Data {
		if i >= len(tokens) {
			break
		}
		if ticket.Status == "ok" {
			ok++
			continue
		}
		c.log.Debug("push ticket rejected", zap.String("token", tokens[i]), zap.String("message", ticket.Message))
	}
	return ok, nil
}
