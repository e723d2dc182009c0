package ledger

import (
	"context"
	"time"

	"coinledger/pkg/errutil"
	"coinledger/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WalletStore owns the wallets and wallet_holds tables. Balance mutations go
// through ApplyDelta only, which uses a compare-and-swap on the current
// balance so racing writers cannot both succeed.
type WalletStore struct {
	db   *gorm.DB
	node *snowflake.Node

	wallets repository.Repository[Wallet]
	holds   repository.Repository[WalletHold]
}

type WalletStoreParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewWalletStore(p WalletStoreParams) *WalletStore {
	return &WalletStore{
		db:      p.DB,
		node:    p.Node,
		wallets: repository.ProvideStore[Wallet](p.DB),
		holds:   repository.ProvideStore[WalletHold](p.DB),
	}
}

// Create provisions the wallet for a new account with a zero balance.
func (s *WalletStore) Create(ctx context.Context, accountID string) (*Wallet, error) {
	now := time.Now()
	wallet := &Wallet{
		ID:        s.node.Generate().String(),
		AccountID: accountID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.wallets.Create(ctx, wallet); err != nil {
		return nil, err
	}

	return wallet, nil
}

// ByAccount returns (nil, nil) when the account has no wallet.
func (s *WalletStore) ByAccount(ctx context.Context, accountID string) (*Wallet, error) {
	return s.wallets.FindOne(ctx, &Wallet{AccountID: accountID})
}

func (s *WalletStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	wallet, err := s.ByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if wallet == nil {
		return 0, errAccountNotFound(accountID)
	}
	return wallet.Balance, nil
}

func (s *WalletStore) activeHoldTotal(ctx context.Context, walletID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&WalletHold{}).
		Where("wallet_id = ? AND status = ?", walletID, HoldActive).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// AvailableBalance is balance minus active holds.
func (s *WalletStore) AvailableBalance(ctx context.Context, accountID string) (int64, error) {
	wallet, err := s.ByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if wallet == nil {
		return 0, errAccountNotFound(accountID)
	}

	held, err := s.activeHoldTotal(ctx, wallet.ID)
	if err != nil {
		return 0, err
	}

	return wallet.Balance - held, nil
}

// Reserve earmarks amount against the available balance and returns the hold
// token.
func (s *WalletStore) Reserve(ctx context.Context, accountID string, amount int64) (*WalletHold, error) {
	if amount <= 0 {
		return nil, errInvalidAmount(amount)
	}

	wallet, err := s.ByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, errAccountNotFound(accountID)
	}

	available, err := s.AvailableBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if available < amount {
		return nil, errInsufficientFunds(accountID, available, amount)
	}

	hold := &WalletHold{
		ID:        s.node.Generate().String(),
		WalletID:  wallet.ID,
		Amount:    amount,
		Status:    HoldActive,
		CreatedAt: time.Now(),
	}
	if err := s.holds.Create(ctx, hold); err != nil {
		return nil, err
	}

	zap.L().Info("hold reserved",
		zap.String("account_id", accountID),
		zap.String("hold_id", hold.ID),
		zap.Int64("amount", amount),
	)

	return hold, nil
}

func (s *WalletStore) ReleaseHold(ctx context.Context, holdID string) error {
	hold, err := s.holds.FindOne(ctx, &WalletHold{ID: holdID})
	if err != nil {
		return err
	}
	if hold == nil {
		return errutil.NotFound("hold not found")
	}
	if hold.Status != HoldActive {
		return nil
	}

	return s.holds.Update(ctx, holdID, map[string]any{
		"status":      HoldReleased,
		"released_at": time.Now(),
	})
}

// ApplyDelta adjusts a wallet balance inside the given storage transaction.
// expectedBefore is the optimistic-concurrency token: if another writer got
// there first the update matches zero rows and ErrConcurrentModification is
// returned so the coordinator can retry with fresh balances.
func (s *WalletStore) ApplyDelta(ctx context.Context, tx *gorm.DB, walletID string, delta, expectedBefore int64) error {
	updates := map[string]any{
		"balance":    gorm.Expr("balance + ?", delta),
		"updated_at": time.Now(),
	}
	if delta > 0 {
		updates["lifetime_earned"] = gorm.Expr("lifetime_earned + ?", delta)
	} else {
		updates["lifetime_spent"] = gorm.Expr("lifetime_spent + ?", -delta)
	}

	res := tx.WithContext(ctx).
		Model(&Wallet{}).
		Where("id = ? AND balance = ?", walletID, expectedBefore).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}

	return nil
}
