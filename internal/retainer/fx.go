package retainer

import (
	"github.com/permitwise/billingcore/internal/retainer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("retainer",
	fx.Provide(
		service.NewService,
	),
)
