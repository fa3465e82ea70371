// Package gen wraps the Gemini API behind the Generator contract: one
// blocking call per invocation, rate limited across the whole process.
package gen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Client calls the Gemini API. The rate limiter is shared by every story
// running in the process, so concurrent drivers cannot stampede the quota.
type Client struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

type Config struct {
	APIKey            string
	Model             string
	RequestsPerMinute int
	Timeout           time.Duration
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		client:  client,
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
		timeout: timeout,
		logger:  logger.With("component", "gen"),
	}, nil
}

// Generate returns plain prose output.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	return c.generate(ctx, system, user, nil)
}

// GenerateJSON constrains the response to a JSON document.
func (c *Client) GenerateJSON(ctx context.Context, system, user string) (string, error) {
	return c.generate(ctx, system, user, func(cfg *genai.GenerateContentConfig) {
		cfg.ResponseMIMEType = "application/json"
	})
}

func (c *Client) generate(ctx context.Context, system, user string, tweak func(*genai.GenerateContentConfig)) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	if tweak != nil {
		tweak(cfg)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("generate content: empty response")
	}
	c.logger.Debug("generation call",
		"model", c.model, "elapsed", time.Since(start), "response_bytes", len(text))
	return text, nil
}
