package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-trade-bot-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const systemMessage = "You are a professional cryptocurrency trader. Output JSON format only."

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// OpenAIClient talks to any OpenAI compatible chat completions endpoint.
type OpenAIClient struct {
	client      *resty.Client
	model       string
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	logger      *zap.Logger
	observe     func(time.Duration)
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for one model. baseURL may end with or
// without /v1.
func NewOpenAIClient(cfg config.AI, baseURL, model, apiKey string, logger *zap.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = cfg.BaseURL
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	client := resty.New().
		SetBaseURL(apiBase(baseURL)).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")
	if cfg.TimeoutSeconds > 0 {
		client.SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	}
	return &OpenAIClient{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger.Named("ai"),
	}
}

// ObserveLatency registers a callback receiving the duration of each request.
func (c *OpenAIClient) ObserveLatency(fn func(time.Duration)) {
	c.observe = fn
}

// apiBase normalizes a base URL so that it ends with exactly one /v1.
func apiBase(base string) string {
	base = strings.TrimRight(base, "/")
	if i := strings.Index(base, "/v1"); i >= 0 {
		return base[:i+3]
	}
	return base + "/v1"
}

// Decide sends one completion request and parses the answer.
func (c *OpenAIClient) Decide(ctx context.Context, req Request) (*DecisionSet, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	prompt := BuildPrompt(req)
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemMessage},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&chatResponse{}).
		Post("/chat/completions")
	if c.observe != nil {
		c.observe(time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("completion request failed with status %s: %s", resp.Status(), truncate(resp.String(), 200))
	}

	result := resp.Result().(*chatResponse)
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}
	content := result.Choices[0].Message.Content

	c.logger.Debug("Completion received",
		zap.String("model", c.model),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", len(content)),
		zap.Duration("elapsed", time.Since(start)))

	set, err := ParseDecisionSet(content, req.Coins)
	if err != nil {
		return nil, err
	}
	return set, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
