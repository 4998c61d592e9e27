// Package genai provides the LLM gateway for CoachFlow.
//
// All generation goes through Google's Gemini generateContent API with a
// per-model retry policy and a fixed fallback chain: the primary model is
// retried a bounded number of times, then the secondary, then the tertiary.
// An optional OpenAI provider can sit at the end of the chain. Callers treat
// an error from Generate as "could not respond" and degrade to a canned
// apology rather than crashing the turn.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Default gateway configuration.
const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Second
	DefaultTimeout    = 60 * time.Second
)

// DefaultModels is the fallback chain tried in order.
var DefaultModels = []string{
	"gemini-2.0-flash",
	"gemini-2.0-flash-lite",
	"gemini-1.5-flash",
}

// Request describes one generation call.
type Request struct {
	SystemPrompt    string
	UserPrompt      string
	Temperature     float32
	MaxOutputTokens int
	// JSONResponse asks the model to emit a JSON document instead of prose.
	JSONResponse bool
}

// backend performs a single generation attempt against one model.
// The HTTP Gemini implementation is the production backend; tests substitute
// their own.
type backend interface {
	generate(ctx context.Context, model string, req Request) (string, error)
}

// Opts holds configuration options for the gateway.
type Opts struct {
	APIKey      string
	BaseURL     string
	Models      []string
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	OpenAIKey   string
	OpenAIModel string
}

// Option defines a configuration option for the gateway.
type Option func(*Opts)

// WithAPIKey sets the Gemini API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the Gemini API base URL (used by tests).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModels sets the fallback chain of model names, tried in order.
func WithModels(models ...string) Option {
	return func(o *Opts) { o.Models = models }
}

// WithMaxRetries sets the per-model retry count.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// WithRetryDelay sets the fixed delay between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Opts) { o.RetryDelay = d }
}

// WithOpenAIFallback enables an OpenAI chat-completion provider as the last
// resort when every Gemini model exhausts its retries.
func WithOpenAIFallback(apiKey, model string) Option {
	return func(o *Opts) {
		o.OpenAIKey = apiKey
		o.OpenAIModel = model
	}
}

// Client is the multi-model LLM gateway.
type Client struct {
	backend    backend
	fallback   backend
	models     []string
	maxRetries int
	retryDelay time.Duration
}

// NewClient initializes the gateway. The API key falls back to the
// GEMINI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		BaseURL:    DefaultBaseURL,
		Models:     DefaultModels,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels
	}

	client := &Client{
		backend: &geminiBackend{
			apiKey:  cfg.APIKey,
			baseURL: cfg.BaseURL,
			httpClient: &http.Client{
				Timeout: cfg.Timeout,
				Transport: &http.Transport{
					MaxIdleConns:    100,
					IdleConnTimeout: 60 * time.Second,
				},
			},
		},
		models:     cfg.Models,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
	if cfg.OpenAIKey != "" {
		client.fallback = newOpenAIBackend(cfg.OpenAIKey, cfg.OpenAIModel)
		slog.Debug("genai.NewClient: OpenAI fallback enabled", "model", cfg.OpenAIModel)
	}
	slog.Debug("genai.NewClient: gateway configured", "models", cfg.Models, "maxRetries", cfg.MaxRetries)
	return client, nil
}

// GenerateWithModel sends the request to one model, retrying up to the
// configured count with a fixed delay between attempts.
func (c *Client) GenerateWithModel(ctx context.Context, model string, req Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		text, err := c.backend.generate(ctx, model, req)
		if err == nil && text != "" {
			slog.Debug("Client.GenerateWithModel: succeeded", "model", model, "attempt", attempt)
			return text, nil
		}
		if err == nil {
			err = fmt.Errorf("model %s returned an empty response", model)
		}
		lastErr = err
		slog.Warn("Client.GenerateWithModel: attempt failed", "model", model, "attempt", attempt, "maxRetries", c.maxRetries, "error", err)

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}
	return "", fmt.Errorf("model %s exhausted %d retries: %w", model, c.maxRetries, lastErr)
}

// Generate walks the fallback chain: each model gets the full retry policy
// before the next is tried. It fails only when every model (and the OpenAI
// fallback, when configured) is exhausted.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for _, model := range c.models {
		text, err := c.GenerateWithModel(ctx, model, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		slog.Warn("Client.Generate: model exhausted, falling back", "model", model, "error", err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	if c.fallback != nil {
		slog.Info("Client.Generate: all Gemini models exhausted, trying OpenAI fallback")
		text, err := c.fallback.generate(ctx, "", req)
		if err == nil && text != "" {
			return text, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	slog.Error("Client.Generate: all models exhausted", "error", lastErr)
	return "", fmt.Errorf("all models exhausted: %w", lastErr)
}

// geminiBackend is the HTTP transport for the Gemini generateContent API.
type geminiBackend struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Wire types for the generateContent API.
type geminiPayload struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature      float32 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (b *geminiBackend) generate(ctx context.Context, model string, req Request) (string, error) {
	payload := geminiPayload{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: req.UserPrompt}}},
		},
	}
	if req.SystemPrompt != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	cfg := &generationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if req.JSONResponse {
		cfg.ResponseMimeType = "application/json"
	}
	payload.GenerationConfig = cfg

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation payload: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", b.baseURL, model, b.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("gemini API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var decoded geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}
