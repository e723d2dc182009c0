package expiry

import (
	"context"
	"time"

	"coinledger/pkg/config"
	"coinledger/pkg/task"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler fires one sweep per day at the configured wall-clock time. With
// an enqueuer present the sweep runs through the worker queue; without one
// it runs in-process.
type Scheduler struct {
	engine   *Engine
	enqueuer task.Enqueuer

	hour   int
	minute int
}

type SchedulerParams struct {
	fx.In
	Engine *Engine
	Config *config.Config

	Enqueuer task.Enqueuer `optional:"true"`
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{
		engine:   p.Engine,
		enqueuer: p.Enqueuer,
		hour:     p.Config.Ledger.ExpiryRunHour,
		minute:   p.Config.Ledger.ExpiryRunMinute,
	}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("started expiry scheduler",
		zap.Int("hour", s.hour),
		zap.Int("minute", s.minute),
	)

	for {
		now := time.Now()
		next := nextRunTime(now, s.hour, s.minute)

		zap.L().Info("next expiry sweep scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)),
		)
		select {
		case <-time.After(next.Sub(now)):
			s.runDaily(ctx)
		case <-ctx.Done():
			zap.L().Warn("expiry scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := time.Now()

	if s.enqueuer != nil {
		if err := EnqueueSweep(s.enqueuer); err != nil {
			zap.L().Error("failed to enqueue expiry sweep", zap.Error(err))
		}
		return
	}

	if _, err := s.engine.Sweep(ctx); err != nil {
		zap.L().Error("expiry sweep failed", zap.Error(err))
		return
	}

	zap.L().Info("daily expiry sweep finished", zap.Duration("duration", time.Since(start)))
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

var Module = fx.Module("expiry",
	fx.Provide(
		NewEngine,
		NewScheduler,
	),
	fx.Invoke(StartScheduler),
)
