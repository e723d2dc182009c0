package notify

import (
	"encoding/json"
	"runtime/debug"
	"time"

	"coinledger/pkg/task"
	"coinledger/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	EventBalanceChanged = "balance.changed"
	EventWalletCreated  = "wallet.created"
)

// Event is what downstream notification collaborators receive. Delivery is
// best-effort; the ledger outcome never depends on it.
type Event struct {
	Type          string    `json:"type"`
	AccountID     string    `json:"account_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Dispatcher interface {
	Dispatch(accountID string, event Event)
}

var Module = fx.Module("notify",
	fx.Provide(NewDispatcher),
)

type Params struct {
	fx.In
	Enqueuer task.Enqueuer `optional:"true"`
}

// NewDispatcher returns the asynq-backed dispatcher when a task client is
// available, otherwise a log-only fallback.
func NewDispatcher(p Params) Dispatcher {
	if p.Enqueuer == nil {
		return &logDispatcher{}
	}
	return &asyncDispatcher{enqueuer: p.Enqueuer}
}

type asyncDispatcher struct {
	enqueuer task.Enqueuer
}

func (d *asyncDispatcher) Dispatch(accountID string, event Event) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("notify dispatch panicked",
				zap.String("account_id", accountID),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()

	event.AccountID = accountID
	payload, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("failed to marshal notify event", zap.Error(err))
		return
	}

	if _, err := d.enqueuer.Enqueue(asynq.NewTask(taskname.LedgerNotify, payload), asynq.Queue("low")); err != nil {
		zap.L().Error("failed to enqueue notify event",
			zap.String("account_id", accountID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}
}

type logDispatcher struct{}

func (d *logDispatcher) Dispatch(accountID string, event Event) {
	zap.L().Info("notify event",
		zap.String("account_id", accountID),
		zap.String("event_type", event.Type),
		zap.String("transaction_id", event.TransactionID),
		zap.Int64("amount", event.Amount),
	)
}
