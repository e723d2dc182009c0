// Package treasury enforces the operating limits of bot accounts: wallet
// caps, daily action budgets and per-action cooldowns. Bots move coins out
// of dedicated treasuries, never out of thin air.
package treasury

import (
	"context"
	"fmt"
	"time"

	"coinledger/pkg/config"
	"coinledger/pkg/errutil"
	"coinledger/pkg/repository"
	"coinledger/services/ledger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BotPolicy is the per-bot limit sheet. Bots without a row run under the
// configured defaults.
type BotPolicy struct {
	AccountID        string        `gorm:"column:account_id;primaryKey"`
	WalletCap        int64         `gorm:"column:wallet_cap;not null"`
	DailyActionLimit int           `gorm:"column:daily_action_limit;not null"`
	ActionCooldown   time.Duration `gorm:"column:action_cooldown;not null"`
	CreatedAt        time.Time     `gorm:"column:created_at"`
	UpdatedAt        time.Time     `gorm:"column:updated_at"`
}

// BotUsage is the durable daily counter, one row per bot per UTC day. It
// survives restarts so limits cannot be reset by bouncing the process.
type BotUsage struct {
	AccountID    string    `gorm:"column:account_id;primaryKey"`
	Day          string    `gorm:"column:day;primaryKey"`
	ActionCount  int       `gorm:"column:action_count;not null"`
	LastActionAt time.Time `gorm:"column:last_action_at"`
}

func Models() []any {
	return []any{&BotPolicy{}, &BotUsage{}}
}

type Guard struct {
	db       *gorm.DB
	policies repository.Repository[BotPolicy]
	usage    repository.Repository[BotUsage]
	wallets  *ledger.WalletStore

	defaultCap      int64
	defaultDaily    int
	defaultCooldown time.Duration
}

type GuardParams struct {
	fx.In
	DB      *gorm.DB
	Config  *config.Config
	Wallets *ledger.WalletStore
}

func NewGuard(p GuardParams) *Guard {
	return &Guard{
		db:              p.DB,
		policies:        repository.ProvideStore[BotPolicy](p.DB),
		usage:           repository.ProvideStore[BotUsage](p.DB),
		wallets:         p.Wallets,
		defaultCap:      p.Config.Bot.DefaultWalletCap,
		defaultDaily:    p.Config.Bot.DefaultDailyActionLimit,
		defaultCooldown: p.Config.Bot.DefaultActionCooldown,
	}
}

// SetPolicy upserts the limit sheet for one bot.
func (g *Guard) SetPolicy(ctx context.Context, policy BotPolicy) error {
	existing, err := g.policies.FindOne(ctx, &BotPolicy{AccountID: policy.AccountID})
	if err != nil {
		return err
	}

	policy.UpdatedAt = time.Now()
	if existing == nil {
		policy.CreatedAt = policy.UpdatedAt
		return g.policies.Create(ctx, &policy)
	}
	return g.policies.Update(ctx, policy.AccountID, &policy)
}

func (g *Guard) policyFor(ctx context.Context, accountID string) (*BotPolicy, error) {
	policy, err := g.policies.FindOne(ctx, &BotPolicy{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if policy != nil {
		return policy, nil
	}

	return &BotPolicy{
		AccountID:        accountID,
		WalletCap:        g.defaultCap,
		DailyActionLimit: g.defaultDaily,
		ActionCooldown:   g.defaultCooldown,
	}, nil
}

// Authorize vets one bot-initiated intent against its policy. On success
// the daily counter is advanced; a denied intent leaves the counter alone.
func (g *Guard) Authorize(ctx context.Context, intent ledger.Intent) error {
	policy, err := g.policyFor(ctx, intent.InitiatorAccountID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	day := now.Format("2006-01-02")

	usage, err := g.usage.FindOne(ctx, &BotUsage{AccountID: intent.InitiatorAccountID, Day: day})
	if err != nil {
		return err
	}

	if usage != nil {
		if policy.DailyActionLimit > 0 && usage.ActionCount >= policy.DailyActionLimit {
			return g.deny(intent, "daily action limit reached",
				fmt.Sprintf("%d actions today", usage.ActionCount))
		}
		if policy.ActionCooldown > 0 && now.Sub(usage.LastActionAt) < policy.ActionCooldown {
			return g.deny(intent, "action cooldown active",
				fmt.Sprintf("last action %s ago", now.Sub(usage.LastActionAt).Round(time.Second)))
		}
	}

	// The cap constrains the bot's own wallet, so it only bites when the
	// bot is on the credit side.
	if policy.WalletCap > 0 && intent.ToAccountID == intent.InitiatorAccountID {
		balance, err := g.wallets.GetBalance(ctx, intent.InitiatorAccountID)
		if err != nil {
			return err
		}
		if balance+intent.Amount > policy.WalletCap {
			return g.deny(intent, "wallet cap exceeded",
				fmt.Sprintf("balance %d + %d > cap %d", balance, intent.Amount, policy.WalletCap))
		}
	}

	return g.recordAction(ctx, intent.InitiatorAccountID, day, now, usage)
}

func (g *Guard) recordAction(ctx context.Context, accountID, day string, now time.Time, usage *BotUsage) error {
	if usage == nil {
		return g.usage.Create(ctx, &BotUsage{
			AccountID:    accountID,
			Day:          day,
			ActionCount:  1,
			LastActionAt: now,
		})
	}

	return g.db.WithContext(ctx).
		Model(&BotUsage{}).
		Where("account_id = ? AND day = ?", accountID, day).
		Updates(map[string]any{
			"action_count":   gorm.Expr("action_count + 1"),
			"last_action_at": now,
		}).Error
}

func (g *Guard) deny(intent ledger.Intent, msg, detail string) error {
	zap.L().Warn("treasury guard denied bot intent",
		zap.String("account_id", intent.InitiatorAccountID),
		zap.String("denial", msg),
		zap.String("detail", detail),
	)

	return errutil.Forbidden(msg,
		errutil.WithReason(ledger.ReasonPolicyViolation),
		errutil.WithDetails(errutil.Detail{Field: "account_id", Message: intent.InitiatorAccountID}),
	)
}

var Module = fx.Module("treasury",
	fx.Provide(
		NewGuard,
		func(g *Guard) ledger.TreasuryGuard { return g },
	),
)
