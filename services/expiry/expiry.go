// Package expiry is the engine that reverses earned coins once they cross
// the retention horizon. Spends already drain earn batches oldest-first, so
// whatever remains in an over-age batch is exactly the amount to expire.
package expiry

import (
	"context"
	"time"

	"coinledger/pkg/config"
	"coinledger/pkg/db/option"
	"coinledger/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ExpiryRun is the bookkeeping row for one sweep.
type ExpiryRun struct {
	ID             string     `gorm:"column:id;primaryKey"`
	Status         string     `gorm:"column:status;type:varchar(20);not null"`
	BatchesExpired int        `gorm:"column:batches_expired;not null"`
	CoinsExpired   int64      `gorm:"column:coins_expired;not null"`
	BatchesFailed  int        `gorm:"column:batches_failed;not null"`
	StartedAt      time.Time  `gorm:"column:started_at"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
}

func Models() []any {
	return []any{&ExpiryRun{}}
}

const sweepConcurrency = 4

type Engine struct {
	db          *gorm.DB
	node        *snowflake.Node
	coordinator *ledger.Coordinator
	horizon     time.Duration
}

type EngineParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Config      *config.Config
	Coordinator *ledger.Coordinator
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		db:          p.DB,
		node:        p.Node,
		coordinator: p.Coordinator,
		horizon:     p.Config.Ledger.ExpiryHorizon,
	}
}

// Sweep expires every over-age earn batch through the regular transaction
// path, one ledger transaction per batch. The per-batch idempotency key
// makes re-running a crashed sweep safe: already-expired batches replay as
// no-ops.
func (e *Engine) Sweep(ctx context.Context) (*ExpiryRun, error) {
	run := &ExpiryRun{
		ID:        e.node.Generate().String(),
		Status:    "running",
		StartedAt: time.Now(),
	}
	if err := e.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-e.horizon)

	var batches []*ledger.EarnBatch
	query := e.db.WithContext(ctx).
		Where("account_id NOT IN ?", []string{
			ledger.SystemMintAccountID,
			ledger.SystemExpiredAccountID,
			ledger.PlatformTreasuryAccountID,
		})
	query = option.Apply(query,
		option.ApplyOperator(option.Condition{Field: "remaining", Operator: option.GT, Value: 0}),
		option.ApplyOperator(option.Condition{Field: "earned_at", Operator: option.LT, Value: cutoff}),
		option.WithSortBy(option.QuerySortBy{SortBy: "earned_at", Allow: map[string]bool{"earned_at": true}}),
	)
	err := query.Find(&batches).Error
	if err != nil {
		e.finish(ctx, run, "failed")
		return run, err
	}

	type outcome struct {
		amount int64
		ok     bool
	}
	results := make([]outcome, len(batches))

	wg, gctx := errgroup.WithContext(ctx)
	wg.SetLimit(sweepConcurrency)
	for i, batch := range batches {
		wg.Go(func() error {
			if err := e.expireBatch(gctx, batch); err != nil {
				zap.L().Error("failed to expire batch",
					zap.String("batch_id", batch.ID),
					zap.String("account_id", batch.AccountID),
					zap.Error(err),
				)
				return nil // keep sweeping, the next run picks it up
			}
			results[i] = outcome{amount: batch.Remaining, ok: true}
			return nil
		})
	}
	_ = wg.Wait()

	for _, r := range results {
		if r.ok {
			run.BatchesExpired++
			run.CoinsExpired += r.amount
		} else {
			run.BatchesFailed++
		}
	}

	status := "success"
	if run.BatchesFailed > 0 {
		status = "partial"
	}
	e.finish(ctx, run, status)

	zap.L().Info("expiry sweep finished",
		zap.String("run_id", run.ID),
		zap.Int("batches_expired", run.BatchesExpired),
		zap.Int64("coins_expired", run.CoinsExpired),
		zap.Int("batches_failed", run.BatchesFailed),
	)
	return run, nil
}

func (e *Engine) expireBatch(ctx context.Context, batch *ledger.EarnBatch) error {
	_, err := e.coordinator.Execute(ctx, ledger.Intent{
		Type:               ledger.TypeExpire,
		InitiatorAccountID: ledger.SystemExpiredAccountID,
		FromAccountID:      batch.AccountID,
		ToAccountID:        ledger.SystemExpiredAccountID,
		Amount:             batch.Remaining,
		IdempotencyKey:     "expire:" + batch.ID,
		Context:            &ledger.ExpireContext{BatchID: batch.ID},
	})
	return err
}

func (e *Engine) finish(ctx context.Context, run *ExpiryRun, status string) {
	now := time.Now()
	if err := e.db.WithContext(ctx).Model(&ExpiryRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"status":          status,
			"batches_expired": run.BatchesExpired,
			"coins_expired":   run.CoinsExpired,
			"batches_failed":  run.BatchesFailed,
			"completed_at":    now,
		}).Error; err != nil {
		zap.L().Error("failed to finalize expiry run", zap.String("run_id", run.ID), zap.Error(err))
	}
	run.Status = status
	run.CompletedAt = &now
}
