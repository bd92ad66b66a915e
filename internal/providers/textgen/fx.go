package textgen

import (
	"github.com/permitwise/billingcore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("textgen",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns the Anthropic-backed provider when an API key is
// configured and the template provider otherwise.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.AnthropicAPIKey == "" {
		log.Info("textgen using template provider")
		return NewTemplateProvider()
	}
	log.Info("textgen using anthropic provider", zap.String("model", cfg.AnthropicModel))
	return NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel, log)
}
