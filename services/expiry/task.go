package expiry

import (
	"context"

	"coinledger/pkg/task"
	"coinledger/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// EnqueueSweep pushes one sweep onto the low-priority queue.
func EnqueueSweep(enqueuer task.Enqueuer) error {
	_, err := enqueuer.Enqueue(
		asynq.NewTask(taskname.LedgerExpiryRun, nil),
		asynq.Queue("low"),
	)
	return err
}

func registerTaskHandlers(mux *asynq.ServeMux, engine *Engine) {
	mux.HandleFunc(taskname.LedgerExpiryRun, func(ctx context.Context, t *asynq.Task) error {
		zap.L().Info("processing expiry sweep task")

		if _, err := engine.Sweep(ctx); err != nil {
			zap.L().Error("expiry sweep failed", zap.Error(err))
			return err
		}
		return nil
	})
}

var TaskModule = fx.Module("task.expiry",
	fx.Invoke(registerTaskHandlers),
)
