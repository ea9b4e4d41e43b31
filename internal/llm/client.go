// Package llm implements the language model capability surface on top of
// the OpenAI chat completions API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/bookworm-labs/storyatlas/internal/metrics"
	"github.com/bookworm-labs/storyatlas/internal/ratelimit"
)

// Config controls the OpenAI-backed client.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint, primarily for tests.
	BaseURL string
	// Model handles classification, research, and candidate work.
	Model string
	// SummaryModel handles cluster summaries (cheaper tier).
	SummaryModel string
	Temperature  float32
	MaxTokens    int
	Timeout      time.Duration
}

// Client implements story.LanguageModel. All calls pass through the shared
// LLM rate limiter.
type Client struct {
	api     *openai.Client
	cfg     Config
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewClient builds a Client. The limiter is the process-wide LLM limiter
// shared across all concurrent resolution tasks.
func NewClient(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = cfg.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1500
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// complete performs one JSON-mode chat completion and unmarshals the reply
// into out.
func (c *Client) complete(ctx context.Context, operation, model, system, user string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	run := func(ctx context.Context) error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return fmt.Errorf("%s completion: %w", operation, err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("%s completion: empty choices", operation)
		}
		content := resp.Choices[0].Message.Content
		if err := json.Unmarshal([]byte(content), out); err != nil {
			return fmt.Errorf("%s decode reply: %w", operation, err)
		}
		return nil
	}

	var err error
	if c.limiter != nil {
		err = c.limiter.Do(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		metrics.ObserveLLM(operation, "error")
		return err
	}
	metrics.ObserveLLM(operation, "ok")
	c.logger.Debug("llm call completed", zap.String("operation", operation), zap.String("model", model))
	return nil
}
