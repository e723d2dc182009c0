package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"coinledger/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var TaskModule = fx.Module("task.notify",
	fx.Invoke(registerTaskHandlers),
)

func registerTaskHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.LedgerNotify, HandleNotifyTask)
}

// HandleNotifyTask hands the event to the delivery collaborator. Actual
// channel delivery (email, in-forum inbox) lives outside this service, so
// the worker only acknowledges and logs.
func HandleNotifyTask(ctx context.Context, t *asynq.Task) error {
	var event Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zap.L().Info("delivering notification",
		zap.String("account_id", event.AccountID),
		zap.String("event_type", event.Type),
		zap.String("transaction_id", event.TransactionID),
	)
	return nil
}
