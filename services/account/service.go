package account

import (
	"context"
	"time"

	"coinledger/pkg/errutil"
	"coinledger/pkg/repository"
	"coinledger/services/ledger"
	"coinledger/services/notify"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	node       *snowflake.Node
	accounts   repository.Repository[Account]
	ledger     *ledger.Service
	dispatcher notify.Dispatcher
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Ledger *ledger.Service

	Dispatcher notify.Dispatcher `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:       p.Node,
		accounts:   repository.ProvideStore[Account](p.DB),
		ledger:     p.Ledger,
		dispatcher: p.Dispatcher,
	}
}

type CreateRequest struct {
	Kind        string `json:"kind" binding:"required"`
	DisplayName string `json:"display_name"`
}

// Create registers an account, provisions its wallet and, for user
// accounts, grants the signup bonus. The bonus carries a per-account
// idempotency key so a crash between steps cannot double-grant it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Account, error) {
	kind := Kind(req.Kind)
	if !kind.Valid() {
		return nil, errutil.ValidationFailed("unknown account kind",
			errutil.WithDetails(errutil.Detail{Field: "kind", Message: req.Kind}),
		)
	}

	acct := &Account{
		ID:          s.node.Generate().String(),
		Kind:        kind,
		Status:      StatusActive,
		DisplayName: req.DisplayName,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		return nil, err
	}

	if _, err := s.ledger.ProvisionWallet(ctx, acct.ID); err != nil {
		return nil, err
	}

	if kind == KindUser {
		if _, err := s.ledger.GrantSignupBonus(ctx, acct.ID); err != nil {
			return nil, err
		}
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(acct.ID, notify.Event{
			Type:       notify.EventWalletCreated,
			AccountID:  acct.ID,
			OccurredAt: time.Now(),
		})
	}

	return acct, nil
}

func (s *Service) Get(ctx context.Context, accountID string) (*Account, error) {
	acct, err := s.accounts.FindOne(ctx, &Account{ID: accountID})
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, errutil.NotFound("account not found",
			errutil.WithDetails(errutil.Detail{Field: "account_id", Message: accountID}),
		)
	}
	return acct, nil
}

// Deactivate freezes the account. Its wallet and history survive, but the
// directory stops vouching for it and every new transaction is rejected.
func (s *Service) Deactivate(ctx context.Context, accountID string) error {
	acct, err := s.Get(ctx, accountID)
	if err != nil {
		return err
	}

	return s.accounts.Update(ctx, acct.ID, map[string]any{
		"status":     StatusDeactivated,
		"updated_at": time.Now(),
	})
}

// Bootstrap guarantees the well-known system accounts and their wallets
// exist. It runs on startup after migration and is idempotent.
func (s *Service) Bootstrap(ctx context.Context) error {
	wellKnown := []struct {
		id   string
		kind Kind
		name string
	}{
		{ledger.SystemMintAccountID, KindSystem, "System Mint"},
		{ledger.SystemExpiredAccountID, KindSystem, "Expired Coins Sink"},
		{ledger.PlatformTreasuryAccountID, KindTreasury, "Platform Treasury"},
	}

	for _, w := range wellKnown {
		existing, err := s.accounts.FindOne(ctx, &Account{ID: w.id})
		if err != nil {
			return err
		}
		if existing == nil {
			if err := s.accounts.Create(ctx, &Account{
				ID:          w.id,
				Kind:        w.kind,
				Status:      StatusActive,
				DisplayName: w.name,
				CreatedAt:   time.Now(),
				UpdatedAt:   time.Now(),
			}); err != nil {
				return err
			}
			zap.L().Info("provisioned system account", zap.String("account_id", w.id))
		}

		if _, err := s.ledger.EnsureWallet(ctx, w.id); err != nil {
			return err
		}
	}

	return nil
}
