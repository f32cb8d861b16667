// Package llm provides the language-model client for agent conversation,
// memory embedding, and moderation. Chat goes through the Anthropic
// Messages API; embeddings go through an OpenAI-compatible endpoint when
// one is configured.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

const (
	apiURL       = "https://api.anthropic.com/v1/messages"
	apiVersion   = "2023-06-01"
	defaultModel = "claude-haiku-4-5-20251001"

	maxRetryJitter = 100 * time.Millisecond
)

// backoffSchedule is how long to wait before each retry of a throttled or
// failing call.
var backoffSchedule = []time.Duration{time.Second, 10 * time.Second, 20 * time.Second}

// Config holds client settings. APIKey is required; the embeddings fields
// are optional and disable Embed when absent.
type Config struct {
	APIKey string
	Model  string

	EmbeddingsAPIKey string
	EmbeddingsURL    string
	EmbeddingsModel  string
}

// Client wraps the model APIs. A nil client reports Enabled() == false and
// fails every call cleanly, so callers can degrade.
type Client struct {
	cfg        Config
	httpClient *http.Client

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewClient creates a client. Returns nil if no API key is configured.
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.EmbeddingsURL == "" {
		cfg.EmbeddingsURL = "https://api.openai.com/v1/embeddings"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		sleep:      time.Sleep,
	}
}

// Enabled reports whether the client can make calls.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.APIKey != ""
}

// CanEmbed reports whether an embeddings backend is configured.
func (c *Client) CanEmbed() bool {
	return c.Enabled() && c.cfg.EmbeddingsAPIKey != ""
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes one completion call.
type ChatRequest struct {
	System    string
	Messages  []Message
	MaxTokens int
	// Stop truncates the response at the first occurrence of any entry.
	Stop []string
}

type apiRequest struct {
	Model         string    `json:"model"`
	MaxTokens     int       `json:"max_tokens"`
	System        string    `json:"system,omitempty"`
	Messages      []Message `json:"messages"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

type apiResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends a completion request and returns the response text. Throttles
// and server errors are retried with backoff; anything else fails fast.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("LLM client not configured")
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 300
	}

	body, err := json.Marshal(apiRequest{
		Model:         c.cfg.Model,
		MaxTokens:     req.MaxTokens,
		System:        req.System,
		Messages:      req.Messages,
		StopSequences: req.Stop,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.post(ctx, apiURL, body, c.chatHeaders())
	if err != nil {
		return "", err
	}

	var resp apiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}

	slog.Debug("chat call",
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	// The API honours stop_sequences, but truncate again in case a stop
	// word slipped through mid-token.
	text := resp.Content[0].Text
	for _, stop := range req.Stop {
		if i := strings.Index(text, stop); i >= 0 {
			text = text[:i]
		}
	}
	return text, nil
}

func (c *Client) chatHeaders() map[string]string {
	return map[string]string{
		"Content-Type":      "application/json",
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": apiVersion,
	}
}

// post sends the payload, retrying 429s and 5xx responses per the backoff
// schedule with a little jitter.
func (c *Client) post(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		respBody, retriable, err := c.postOnce(ctx, url, body, headers)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if !retriable || attempt >= len(backoffSchedule) {
			return nil, lastErr
		}
		wait := backoffSchedule[attempt] + time.Duration(rand.Int63n(int64(maxRetryJitter)))
		slog.Warn("LLM call retrying", "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		c.sleep(wait)
	}
}

func (c *Client) postOnce(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, false, fmt.Errorf("API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, false, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text. Fails when no embeddings
// backend is configured; callers fall back to recency ranking.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if !c.CanEmbed() {
		return nil, fmt.Errorf("embeddings not configured")
	}
	body, err := json.Marshal(embedRequest{Model: c.cfg.EmbeddingsModel, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	respBody, err := c.post(ctx, c.cfg.EmbeddingsURL, body, map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + c.cfg.EmbeddingsAPIKey,
	})
	if err != nil {
		return nil, err
	}
	var resp embedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal embed response: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed returned %d vectors for %d texts", len(resp.Data), len(texts))
	}
	vectors := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Moderate reports whether the text should be blocked.
func (c *Client) Moderate(ctx context.Context, text string) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	answer, err := c.Chat(ctx, ChatRequest{
		System: "You are a content moderator for a cozy small-town game. " +
			"Answer exactly YES if the message contains harassment, hate, sexual content " +
			"involving minors, or instructions for violence. Answer exactly NO otherwise.",
		Messages:  []Message{{Role: "user", Content: text}},
		MaxTokens: 5,
	})
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.TrimSpace(strings.ToUpper(answer)), "YES"), nil
}
