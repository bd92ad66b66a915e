package riskscore

import (
	"time"

	"github.com/permitwise/billingcore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("riskscore",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns the HTTP provider when an endpoint is configured and
// the deterministic heuristic otherwise.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.RiskScoreEndpoint == "" {
		log.Info("riskscore using heuristic provider")
		return NewHeuristicProvider()
	}
	log.Info("riskscore using http provider", zap.String("endpoint", cfg.RiskScoreEndpoint))
	return NewHTTPProvider(cfg.RiskScoreEndpoint, cfg.RiskScoreAPIKey, 10*time.Second)
}
