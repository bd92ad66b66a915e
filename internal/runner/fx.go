package runner

import (
	"context"

	"github.com/permitwise/billingcore/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("runner",
	fx.Provide(NewConfig),
	fx.Provide(New),
	fx.Invoke(StartRunner),
)

func StartRunner(lc fx.Lifecycle, cfg config.Config, runner *Runner) {
	if !cfg.RunnerEnabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go runner.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
