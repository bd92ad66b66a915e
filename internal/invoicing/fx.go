package invoicing

import (
	"github.com/permitwise/billingcore/internal/invoicing/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("invoicing",
	fx.Provide(
		repository.NewRepository,
	),
)
