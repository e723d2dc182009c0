// Package fraud is the velocity guard in front of the ledger: it tracks
// outgoing transfer rates per account inside a rolling window and blocks
// intents that cross the configured thresholds.
package fraud

import (
	"context"
	"fmt"
	"time"

	"coinledger/pkg/config"
	"coinledger/pkg/errutil"
	"coinledger/pkg/rediskey"
	"coinledger/pkg/repository"
	"coinledger/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Signal is the durable record of one blocked intent, kept for moderator
// review.
type Signal struct {
	ID          string    `gorm:"column:id;primaryKey"`
	AccountID   string    `gorm:"column:account_id;index;not null"`
	RecipientID string    `gorm:"column:recipient_id;index"`
	Rule        string    `gorm:"column:rule;not null"`
	Observed    int64     `gorm:"column:observed;not null"`
	Limit       int64     `gorm:"column:threshold;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func Models() []any {
	return []any{&Signal{}}
}

const (
	RuleTransferCount   = "transfer_count"
	RuleTransferAmount  = "transfer_amount"
	RuleRecipientRepeat = "recipient_repeat"
)

type Guard struct {
	node    *snowflake.Node
	counter WindowCounter
	signals repository.Repository[Signal]

	window          time.Duration
	maxTransfers    int64
	maxAmount       int64
	maxPerRecipient int64
}

type GuardParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Counter WindowCounter
}

func NewGuard(p GuardParams) *Guard {
	return &Guard{
		node:            p.Node,
		counter:         p.Counter,
		signals:         repository.ProvideStore[Signal](p.DB),
		window:          p.Config.Fraud.Window,
		maxTransfers:    p.Config.Fraud.MaxTransfers,
		maxAmount:       p.Config.Fraud.MaxAmount,
		maxPerRecipient: p.Config.Fraud.MaxPerRecipient,
	}
}

// Evaluate vets user-originated transfers and purchases. Rewards,
// adjustments and system movements are not rate material.
func (g *Guard) Evaluate(ctx context.Context, intent ledger.Intent) error {
	switch intent.Type {
	case ledger.TypeTransfer, ledger.TypePurchase:
	default:
		return nil
	}
	if intent.FromAccountID == ledger.SystemMintAccountID {
		return nil
	}

	count, err := g.counter.Incr(ctx, rediskey.BuildTransferCountKey(intent.FromAccountID), 1, g.window)
	if err != nil {
		return err
	}
	if count > g.maxTransfers {
		return g.block(ctx, intent, RuleTransferCount, count, g.maxTransfers)
	}

	amount, err := g.counter.Incr(ctx, rediskey.BuildTransferAmountKey(intent.FromAccountID), intent.Amount, g.window)
	if err != nil {
		return err
	}
	if amount > g.maxAmount {
		return g.block(ctx, intent, RuleTransferAmount, amount, g.maxAmount)
	}

	if intent.Type == ledger.TypeTransfer {
		repeats, err := g.counter.Incr(ctx, rediskey.BuildRecipientKey(intent.FromAccountID, intent.ToAccountID), 1, g.window)
		if err != nil {
			return err
		}
		if repeats > g.maxPerRecipient {
			return g.block(ctx, intent, RuleRecipientRepeat, repeats, g.maxPerRecipient)
		}
	}

	return nil
}

func (g *Guard) block(ctx context.Context, intent ledger.Intent, rule string, observed, limit int64) error {
	signal := &Signal{
		ID:          g.node.Generate().String(),
		AccountID:   intent.FromAccountID,
		RecipientID: intent.ToAccountID,
		Rule:        rule,
		Observed:    observed,
		Limit:       limit,
		CreatedAt:   time.Now(),
	}
	if err := g.signals.Create(ctx, signal); err != nil {
		zap.L().Error("failed to persist fraud signal",
			zap.String("account_id", intent.FromAccountID),
			zap.Error(err),
		)
	}

	zap.L().Warn("velocity guard blocked intent",
		zap.String("account_id", intent.FromAccountID),
		zap.String("rule", rule),
		zap.Int64("observed", observed),
		zap.Int64("limit", limit),
	)

	return errutil.Forbidden(
		fmt.Sprintf("velocity limit exceeded: %s", rule),
		errutil.WithReason(ledger.ReasonFraudBlocked),
	)
}

var Module = fx.Module("fraud",
	fx.Provide(
		NewRedisCounter,
		NewGuard,
		func(g *Guard) ledger.FraudGuard { return g },
	),
)
