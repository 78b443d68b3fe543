package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/stepflow/pkg/adapters/llm/anthropic"
	"github.com/aescanero/stepflow/pkg/ports"
)

// Config holds LLM client configuration.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string

	// MaxRetries overrides the SDK's retry count when positive.
	MaxRetries int

	Logger  *zap.Logger
	Metrics anthropic.Metrics
}

// NewClient creates an LLM client for the configured provider. An empty
// provider means no client; llm steps are then rejected when built.
func NewClient(cfg *Config) (ports.LLMClient, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "anthropic":
		var opts []anthropic.Option
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if cfg.MaxRetries > 0 {
			opts = append(opts, anthropic.WithMaxRetries(cfg.MaxRetries))
		}
		if cfg.Metrics != nil {
			opts = append(opts, anthropic.WithMetrics(cfg.Metrics))
		}
		client, err := anthropic.NewClient(cfg.APIKey, cfg.Logger, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
