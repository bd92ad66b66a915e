package promise

import (
	"github.com/permitwise/billingcore/internal/promise/service"
	"go.uber.org/fx"
)

var Module = fx.Module("promise",
	fx.Provide(
		service.NewService,
	),
)
