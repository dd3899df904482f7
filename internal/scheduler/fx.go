package scheduler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

// PeriodicModule starts the ticker loop alongside the process. It is only
// installed by commands that serve long-running traffic.
var PeriodicModule = fx.Module("scheduler.periodic",
	fx.Invoke(NewScheduler),
)

func NewScheduler(lc fx.Lifecycle, cfg Config, sched *Scheduler) {
	if !cfg.PeriodicEnabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

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
