package automation

import (
	"github.com/permitwise/billingcore/internal/automation/repository"
	"github.com/permitwise/billingcore/internal/automation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("automation",
	fx.Provide(
		repository.NewRepository,
		service.NewEvaluator,
		service.NewDispatcher,
		service.NewRuleAdmin,
	),
)
