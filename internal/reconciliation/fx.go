package reconciliation

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation",
	fx.Provide(New),
	fx.Invoke(runInBackground),
)

func runInBackground(lc fx.Lifecycle, job *Job) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go job.RunForever(ctx)

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
