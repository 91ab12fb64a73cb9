// internal/llm/client.go
//
// Language-model chat capability.
//
// Context
// -------
// The AI annotation stage only needs one call: send a short conversation,
// get text back.  Client speaks the OpenAI chat-completions and Anthropic
// messages wire formats, bounded by a request timeout and a token-bucket
// rate limiter.
//
// Notes
// -----
//   - There is no retry here.  A failed call surfaces as an error and the
//     annotation chain falls back to the rule stage.
//   - Anthropic takes system prompts as a top-level field, so system
//     messages are lifted out of the message list for that provider.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// Chatter is the AI capability consumed by the annotator.
type Chatter interface {
	Chat(ctx context.Context, msgs []Message, maxTokens int, temperature float64) (string, error)
}

// Default endpoints and models.
const (
	OpenAIBaseURL    = "https://api.openai.com/v1"
	AnthropicBaseURL = "https://api.anthropic.com/v1"
	DefaultOpenAI    = "gpt-4o-mini"
	DefaultAnthropic = "claude-3-haiku-20240307"
	anthropicVersion = "2023-06-01"
)

// Config selects and tunes a provider.
type Config struct {
	Provider          string // openai | anthropic
	BaseURL           string
	Model             string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 = unlimited
}

// Client implements Chatter.  Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// New validates cfg and fills provider defaults.
func New(cfg Config) (*Client, error) {
	cfg.Provider = strings.ToLower(cfg.Provider)
	switch cfg.Provider {
	case "", "openai":
		cfg.Provider = "openai"
		if cfg.BaseURL == "" {
			cfg.BaseURL = OpenAIBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = DefaultOpenAI
		}
	case "anthropic":
		if cfg.BaseURL == "" {
			cfg.BaseURL = AnthropicBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = DefaultAnthropic
		}
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s api key not set", cfg.Provider)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Chat sends msgs and returns the first text reply.
func (c *Client) Chat(ctx context.Context, msgs []Message, maxTokens int, temperature float64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}
	if c.cfg.Provider == "anthropic" {
		return c.anthropic(ctx, msgs, maxTokens, temperature)
	}
	return c.openAI(ctx, msgs, maxTokens, temperature)
}

/*──────────────────────────── OpenAI ──────────────────────────────────────*/

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) openAI(ctx context.Context, msgs []Message, maxTokens int, temp float64) (string, error) {
	body := openAIChatRequest{Model: c.cfg.Model, Messages: msgs, Temperature: temp, MaxTokens: maxTokens}
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	var parsed openAIChatResponse
	if err := c.post(ctx, "/chat/completions", headers, body, &parsed); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai returned empty content")
	}
	return parsed.Choices[0].Message.Content, nil
}

/*──────────────────────────── Anthropic ───────────────────────────────────*/

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *Client) anthropic(ctx context.Context, msgs []Message, maxTokens int, temp float64) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := anthropicRequest{Model: c.cfg.Model, MaxTokens: maxTokens, Temperature: temp}
	var system []string
	for _, m := range msgs {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		body.Messages = append(body.Messages, m)
	}
	body.System = strings.Join(system, "\n\n")

	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}
	var parsed anthropicResponse
	if err := c.post(ctx, "/messages", headers, body, &parsed); err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic returned empty content")
}

/*──────────────────────────── transport ───────────────────────────────────*/

func (c *Client) post(ctx context.Context, path string, headers map[string]string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}
	return json.Unmarshal(body, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
