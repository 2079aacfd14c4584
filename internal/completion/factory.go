package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
)

// New builds the Completer selected by the configuration.
func New(ctx context.Context, cfg types.CompletionConfig) (Completer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	switch provider {
	case "", ProviderHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("completion.url is required for the %q provider", ProviderHTTP)
		}
		maxRetries := DefaultMaxRetries
		if cfg.MaxRetries != nil {
			maxRetries = *cfg.MaxRetries
		}
		return NewHTTPClient(HTTPConfig{
			URL:        cfg.URL,
			APIKey:     cfg.APIKey,
			Timeout:    cfg.TimeoutDuration(DefaultTimeout),
			MaxRetries: maxRetries,
		}), nil

	case ProviderOpenAI:
		return NewOpenAIClient(ctx, OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.TimeoutDuration(DefaultTimeout),
		})

	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
}
