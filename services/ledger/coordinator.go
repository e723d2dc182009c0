package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinledger/pkg/config"
	"coinledger/pkg/errutil"
	"coinledger/pkg/repository"
	"coinledger/services/notify"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FraudGuard vetoes an intent before any wallet effect. A nil error allows;
// any error blocks and becomes the transaction's failure.
type FraudGuard interface {
	Evaluate(ctx context.Context, intent Intent) error
}

// TreasuryGuard enforces bot wallet caps, daily limits and cooldowns for
// bot-initiated intents.
type TreasuryGuard interface {
	Authorize(ctx context.Context, intent Intent) error
}

// Coordinator drives the pending -> closed|failed state machine. Upon return
// from Execute either the transaction is closed and every touched wallet
// reflects the full amount, or it is failed and no wallet changed.
type Coordinator struct {
	db   *gorm.DB
	node *snowflake.Node

	wallets    *WalletStore
	journal    *Journal
	accounts   AccountDirectory
	fraud      FraudGuard
	treasury   TreasuryGuard
	dispatcher notify.Dispatcher

	txs     repository.Repository[LedgerTransaction]
	batches repository.Repository[EarnBatch]

	maxRetries int
}

type CoordinatorParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Wallets  *WalletStore
	Journal  *Journal
	Accounts AccountDirectory

	Fraud      FraudGuard        `optional:"true"`
	Treasury   TreasuryGuard     `optional:"true"`
	Dispatcher notify.Dispatcher `optional:"true"`
}

func NewCoordinator(p CoordinatorParams) *Coordinator {
	return &Coordinator{
		db:         p.DB,
		node:       p.Node,
		wallets:    p.Wallets,
		journal:    p.Journal,
		accounts:   p.Accounts,
		fraud:      p.Fraud,
		treasury:   p.Treasury,
		dispatcher: p.Dispatcher,
		txs:        repository.ProvideStore[LedgerTransaction](p.DB),
		batches:    repository.ProvideStore[EarnBatch](p.DB),
		maxRetries: p.Config.Ledger.MaxCommitRetries,
	}
}

// Execute runs one intent to a terminal state. A replayed idempotency key
// returns the originally closed transaction without any new effect.
func (c *Coordinator) Execute(ctx context.Context, intent Intent) (*LedgerTransaction, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	if intent.IdempotencyKey != "" {
		existing, err := c.findByKey(ctx, intent.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			// A row still in flight belongs to a concurrent carrier of the
			// same key; only terminal rows replay as results.
			if existing.Status == StatusPending {
				return nil, errInFlight(intent.IdempotencyKey)
			}
			return existing, nil
		}
	}

	if _, err := c.resolveAccount(ctx, intent.FromAccountID); err != nil {
		return nil, err
	}
	if _, err := c.resolveAccount(ctx, intent.ToAccountID); err != nil {
		return nil, err
	}

	// The initiator is resolved leniently: admin staff identities are not
	// coin accounts.
	initiator, err := c.accounts.Lookup(ctx, intent.InitiatorAccountID)
	if err != nil {
		return nil, err
	}

	txRow, err := c.open(ctx, intent)
	if err != nil {
		var replayed *LedgerTransaction
		if replayed, err = c.recoverReplay(ctx, intent, err); replayed != nil {
			return replayed, nil
		}
		return nil, err
	}

	if c.fraud != nil {
		if verr := c.fraud.Evaluate(ctx, intent); verr != nil {
			return nil, c.fail(ctx, txRow, ReasonFraudBlocked, verr)
		}
	}

	if c.treasury != nil && initiator != nil && initiator.Kind == KindBot {
		if verr := c.treasury.Authorize(ctx, intent); verr != nil {
			return nil, c.fail(ctx, txRow, ReasonPolicyViolation, verr)
		}
	}

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		err := c.commit(ctx, txRow, intent)
		if err == nil {
			c.notifyParties(intent, txRow)
			return txRow, nil
		}
		if errors.Is(err, ErrConcurrentModification) {
			zap.L().Warn("ledger commit lost concurrency race, retrying",
				zap.String("transaction_id", txRow.ID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return nil, c.fail(ctx, txRow, errutil.Reason(err), err)
	}

	return nil, c.fail(ctx, txRow, ReasonConflict, errConflict())
}

func (c *Coordinator) findByKey(ctx context.Context, key string) (*LedgerTransaction, error) {
	return c.txs.FindOne(ctx, &LedgerTransaction{IdempotencyKey: &key})
}

func (c *Coordinator) resolveAccount(ctx context.Context, accountID string) (*AccountRef, error) {
	ref, err := c.accounts.Lookup(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, errAccountNotFound(accountID)
	}
	if !ref.Active {
		return nil, errAccountInactive(accountID)
	}
	return ref, nil
}

func (c *Coordinator) open(ctx context.Context, intent Intent) (*LedgerTransaction, error) {
	contextJSON, err := encodeContext(intent.Context)
	if err != nil {
		return nil, err
	}

	code, err := GenerateTransactionCode()
	if err != nil {
		return nil, err
	}

	txRow := &LedgerTransaction{
		ID:                 c.node.Generate().String(),
		Code:               code,
		Type:               intent.Type,
		Status:             StatusPending,
		InitiatorAccountID: intent.InitiatorAccountID,
		FromAccountID:      intent.FromAccountID,
		ToAccountID:        intent.ToAccountID,
		Amount:             intent.Amount,
		Context:            contextJSON,
		CreatedAt:          time.Now(),
	}
	if intent.IdempotencyKey != "" {
		key := intent.IdempotencyKey
		txRow.IdempotencyKey = &key
	}

	if err := c.txs.Create(ctx, txRow); err != nil {
		return nil, err
	}

	return txRow, nil
}

// recoverReplay handles the race where two carriers of the same idempotency
// key hit the unique index concurrently: the loser returns the winner's row.
func (c *Coordinator) recoverReplay(ctx context.Context, intent Intent, cause error) (*LedgerTransaction, error) {
	if intent.IdempotencyKey == "" || !errors.Is(cause, gorm.ErrDuplicatedKey) {
		return nil, cause
	}

	existing, err := c.findByKey(ctx, intent.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, cause
	}
	if existing.Status == StatusPending {
		return nil, errInFlight(intent.IdempotencyKey)
	}
	return existing, nil
}

// fail marks the transaction terminal and releases its idempotency key so
// the caller can retry the whole intent with fresh state. The original error
// is always returned, even if the status update itself fails.
func (c *Coordinator) fail(ctx context.Context, txRow *LedgerTransaction, reason string, cause error) error {
	if reason == "" {
		reason = "INTERNAL"
	}

	if err := c.txs.Update(ctx, txRow.ID, map[string]any{
		"status":          StatusFailed,
		"failure_reason":  reason,
		"idempotency_key": nil,
	}); err != nil {
		zap.L().Error("failed to mark ledger transaction failed",
			zap.String("transaction_id", txRow.ID),
			zap.Error(err),
		)
	}

	txRow.Status = StatusFailed
	txRow.FailureReason = reason

	return cause
}

// commit applies the full effect of the intent in one storage transaction:
// balance reads, CAS wallet updates, journal entries, earn-batch effects and
// the close of the transaction row all land together or not at all.
func (c *Coordinator) commit(ctx context.Context, txRow *LedgerTransaction, intent Intent) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := c.buildPlan(ctx, tx, intent)
		if err != nil {
			return err
		}

		for _, leg := range plan {
			delta := leg.Amount
			if leg.Direction == Debit {
				delta = -delta
			}
			if err := c.wallets.ApplyDelta(ctx, tx, leg.WalletID, delta, leg.Before); err != nil {
				return err
			}
		}

		entries, err := c.journal.Append(ctx, tx, txRow.ID, plan...)
		if err != nil {
			return err
		}

		if err := c.applyBatchEffects(ctx, tx, intent, plan, entries); err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&LedgerTransaction{}).
			Where("id = ? AND status = ?", txRow.ID, StatusPending).
			Updates(map[string]any{"status": StatusClosed, "closed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("transaction %s is no longer pending", txRow.ID)
		}

		txRow.Status = StatusClosed
		txRow.ClosedAt = &now
		return nil
	})
}

func (c *Coordinator) loadWallet(ctx context.Context, tx *gorm.DB, accountID string) (*Wallet, error) {
	wallet, err := c.wallets.wallets.WithTrx(tx).FindOne(ctx, &Wallet{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, errAccountNotFound(accountID)
	}
	return wallet, nil
}

// buildPlan reads fresh wallet balances inside the storage transaction and
// lays out the balanced posting legs for the intent. Only the system mint
// wallet may be debited below zero.
func (c *Coordinator) buildPlan(ctx context.Context, tx *gorm.DB, intent Intent) ([]Posting, error) {
	switch intent.Type {
	case TypePurchase:
		pc, err := purchaseContextOf(intent)
		if err != nil {
			return nil, err
		}
		return c.purchasePlan(ctx, tx, intent, pc.SellerShare, pc.PlatformShare, false)

	case TypeRefund:
		rc, err := refundContextOf(intent)
		if err != nil {
			return nil, err
		}
		if rc.SellerShare > 0 || rc.PlatformShare > 0 {
			return c.purchasePlan(ctx, tx, intent, rc.SellerShare, rc.PlatformShare, true)
		}
		return c.pairPlan(ctx, tx, intent)

	default:
		return c.pairPlan(ctx, tx, intent)
	}
}

func (c *Coordinator) pairPlan(ctx context.Context, tx *gorm.DB, intent Intent) ([]Posting, error) {
	fromW, err := c.loadWallet(ctx, tx, intent.FromAccountID)
	if err != nil {
		return nil, err
	}
	toW, err := c.loadWallet(ctx, tx, intent.ToAccountID)
	if err != nil {
		return nil, err
	}

	if intent.FromAccountID != SystemMintAccountID && fromW.Balance < intent.Amount {
		return nil, errInsufficientFunds(intent.FromAccountID, fromW.Balance, intent.Amount)
	}

	memo := string(intent.Type)
	return []Posting{
		{WalletID: fromW.ID, Direction: Debit, Amount: intent.Amount, Before: fromW.Balance, After: fromW.Balance - intent.Amount, Memo: memo},
		{WalletID: toW.ID, Direction: Credit, Amount: intent.Amount, Before: toW.Balance, After: toW.Balance + intent.Amount, Memo: memo},
	}, nil
}

// purchasePlan fans one purchase (or its refund, reversed) into the buyer
// leg plus the seller/platform commission legs, all in one transaction.
func (c *Coordinator) purchasePlan(ctx context.Context, tx *gorm.DB, intent Intent, sellerShare, platformShare int64, reversed bool) ([]Posting, error) {
	if sellerShare+platformShare != intent.Amount {
		return nil, fmt.Errorf("commission shares %d+%d do not sum to %d", sellerShare, platformShare, intent.Amount)
	}

	buyerAccount, sellerAccount := intent.FromAccountID, intent.ToAccountID
	if reversed {
		// refund: seller and platform pay the buyer back
		buyerAccount, sellerAccount = intent.ToAccountID, intent.FromAccountID
	}

	buyer, err := c.loadWallet(ctx, tx, buyerAccount)
	if err != nil {
		return nil, err
	}
	seller, err := c.loadWallet(ctx, tx, sellerAccount)
	if err != nil {
		return nil, err
	}
	platform, err := c.loadWallet(ctx, tx, PlatformTreasuryAccountID)
	if err != nil {
		return nil, err
	}

	memo := string(intent.Type)
	if !reversed {
		if buyer.Balance < intent.Amount {
			return nil, errInsufficientFunds(buyerAccount, buyer.Balance, intent.Amount)
		}

		plan := []Posting{
			{WalletID: buyer.ID, Direction: Debit, Amount: intent.Amount, Before: buyer.Balance, After: buyer.Balance - intent.Amount, Memo: memo},
		}
		if sellerShare > 0 {
			plan = append(plan, Posting{WalletID: seller.ID, Direction: Credit, Amount: sellerShare, Before: seller.Balance, After: seller.Balance + sellerShare, Memo: memo + ":seller"})
		}
		if platformShare > 0 {
			plan = append(plan, Posting{WalletID: platform.ID, Direction: Credit, Amount: platformShare, Before: platform.Balance, After: platform.Balance + platformShare, Memo: memo + ":platform"})
		}
		return plan, nil
	}

	if sellerShare > 0 && seller.Balance < sellerShare {
		return nil, errInsufficientFunds(sellerAccount, seller.Balance, sellerShare)
	}
	if platformShare > 0 && platform.Balance < platformShare {
		return nil, errInsufficientFunds(PlatformTreasuryAccountID, platform.Balance, platformShare)
	}

	plan := []Posting{}
	if sellerShare > 0 {
		plan = append(plan, Posting{WalletID: seller.ID, Direction: Debit, Amount: sellerShare, Before: seller.Balance, After: seller.Balance - sellerShare, Memo: memo + ":seller"})
	}
	if platformShare > 0 {
		plan = append(plan, Posting{WalletID: platform.ID, Direction: Debit, Amount: platformShare, Before: platform.Balance, After: platform.Balance - platformShare, Memo: memo + ":platform"})
	}
	plan = append(plan, Posting{WalletID: buyer.ID, Direction: Credit, Amount: intent.Amount, Before: buyer.Balance, After: buyer.Balance + intent.Amount, Memo: memo})
	return plan, nil
}

// applyBatchEffects keeps the earn-batch bookkeeping in step with the legs:
// ordinary debits drain batches oldest-first, expire debits burn exactly
// their named batch, and earn-type credits open a new batch.
func (c *Coordinator) applyBatchEffects(ctx context.Context, tx *gorm.DB, intent Intent, plan []Posting, entries []*JournalEntry) error {
	if intent.Type == TypeExpire {
		ec, err := expireContextOf(intent)
		if err != nil {
			return err
		}
		return c.consumeBatch(ctx, tx, ec.BatchID, intent.Amount)
	}

	for _, leg := range plan {
		if leg.Direction == Debit {
			if err := c.consumeFIFO(ctx, tx, leg.WalletID, leg.Amount); err != nil {
				return err
			}
		}
	}

	if intent.Type != TypeReward && intent.Type != TypeSignupBonus {
		return nil
	}

	for _, entry := range entries {
		if entry.Direction != Credit {
			continue
		}
		batch := &EarnBatch{
			ID:        c.node.Generate().String(),
			EntryID:   entry.ID,
			WalletID:  entry.WalletID,
			AccountID: intent.ToAccountID,
			Amount:    entry.Amount,
			Remaining: entry.Amount,
			EarnedAt:  entry.CreatedAt,
		}
		if err := c.batches.WithTrx(tx).Create(ctx, batch); err != nil {
			return err
		}
	}

	return nil
}

// consumeFIFO attributes a spend to the oldest unconsumed earn batches.
// Batches may cover less than the spend: the remainder was funded by
// non-expiring credits (transfers-in, purchases) and needs no bookkeeping.
func (c *Coordinator) consumeFIFO(ctx context.Context, tx *gorm.DB, walletID string, amount int64) error {
	var batches []*EarnBatch
	if err := tx.WithContext(ctx).
		Where("wallet_id = ? AND remaining > 0", walletID).
		Order("earned_at ASC").
		Find(&batches).Error; err != nil {
		return err
	}

	remaining := amount
	for _, batch := range batches {
		if remaining == 0 {
			break
		}
		take := min(batch.Remaining, remaining)
		if err := c.consumeBatchWith(ctx, tx, batch.ID, take); err != nil {
			return err
		}
		remaining -= take
	}

	return nil
}

func (c *Coordinator) consumeBatch(ctx context.Context, tx *gorm.DB, batchID string, amount int64) error {
	return c.consumeBatchWith(ctx, tx, batchID, amount)
}

func (c *Coordinator) consumeBatchWith(ctx context.Context, tx *gorm.DB, batchID string, amount int64) error {
	res := tx.WithContext(ctx).
		Model(&EarnBatch{}).
		Where("id = ? AND remaining >= ?", batchID, amount).
		Updates(map[string]any{
			"remaining":   gorm.Expr("remaining - ?", amount),
			"consumed_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (c *Coordinator) notifyParties(intent Intent, txRow *LedgerTransaction) {
	if c.dispatcher == nil {
		return
	}

	event := notify.Event{
		Type:          notify.EventBalanceChanged,
		TransactionID: txRow.ID,
		Amount:        intent.Amount,
		OccurredAt:    time.Now(),
	}
	c.dispatcher.Dispatch(intent.FromAccountID, event)
	c.dispatcher.Dispatch(intent.ToAccountID, event)
}

func purchaseContextOf(intent Intent) (*PurchaseContext, error) {
	switch v := intent.Context.(type) {
	case *PurchaseContext:
		return v, nil
	case PurchaseContext:
		return &v, nil
	default:
		return nil, fmt.Errorf("purchase intent missing purchase context")
	}
}

func refundContextOf(intent Intent) (*RefundContext, error) {
	switch v := intent.Context.(type) {
	case *RefundContext:
		return v, nil
	case RefundContext:
		return &v, nil
	default:
		return nil, fmt.Errorf("refund intent missing refund context")
	}
}

func expireContextOf(intent Intent) (*ExpireContext, error) {
	switch v := intent.Context.(type) {
	case *ExpireContext:
		return v, nil
	case ExpireContext:
		return &v, nil
	default:
		return nil, fmt.Errorf("expire intent missing expire context")
	}
}
