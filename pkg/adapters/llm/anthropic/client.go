// Package anthropic implements ports.LLMClient with the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/aescanero/stepflow/pkg/ports"
)

// Metrics receives one observation per completion call.
type Metrics interface {
	ObserveLLMCall(model string, inputTokens, outputTokens int, d time.Duration, err error)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.requestOpts = append(c.requestOpts, option.WithBaseURL(url))
	}
}

// WithMaxRetries overrides the SDK retry count.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.requestOpts = append(c.requestOpts, option.WithMaxRetries(n))
	}
}

// WithMetrics records call metrics.
func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client sends single-turn completion requests.
type Client struct {
	client      anthropic.Client
	logger      *zap.Logger
	metrics     Metrics
	requestOpts []option.RequestOption
}

var _ ports.LLMClient = (*Client)(nil)

// NewClient creates an Anthropic client authenticated with apiKey.
func NewClient(apiKey string, logger *zap.Logger, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		logger:      logger,
		requestOpts: []option.RequestOption{option.WithAPIKey(apiKey)},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client = anthropic.NewClient(c.requestOpts...)
	return c, nil
}

// GenerateCompletion sends req.Prompt as a single user message and returns
// the concatenated text blocks of the reply.
func (c *Client) GenerateCompletion(ctx context.Context, req *ports.LLMRequest) (*ports.LLMResponse, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	elapsed := time.Since(start)
	if err != nil {
		c.observe(req.Model, 0, 0, elapsed, err)
		c.logger.Error("completion request failed",
			zap.String("model", req.Model),
			zap.Duration("latency", elapsed),
			zap.Error(err))
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	resp := &ports.LLMResponse{
		Content:      sb.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	c.observe(req.Model, resp.InputTokens, resp.OutputTokens, elapsed, nil)
	c.logger.Debug("completion received",
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
		zap.Duration("latency", elapsed))
	return resp, nil
}

func (c *Client) observe(model string, in, out int, d time.Duration, err error) {
	if c.metrics != nil {
		c.metrics.ObserveLLMCall(model, in, out, d, err)
	}
}
