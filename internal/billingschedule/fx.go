package billingschedule

import (
	"github.com/permitwise/billingcore/internal/billingschedule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingschedule",
	fx.Provide(
		service.NewService,
	),
)
