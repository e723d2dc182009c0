package account

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"coinledger/pkg/config"
	"coinledger/pkg/errutil"
	"coinledger/services/commission"
	"coinledger/services/ledger"
	"coinledger/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *Directory, *gorm.DB) {
	models := append(ledger.Models(), Models()...)
	db := testutil.NewTestDB(t, models...)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Ledger.SignupBonus = 100
	cfg.Ledger.ExpiryHorizon = 90 * 24 * time.Hour
	cfg.Ledger.PlatformSharePct = 20
	cfg.Ledger.MaxCommitRetries = 3
	cfg.Ledger.HistoryPageDefault = 25

	dir := NewDirectory(db)
	wallets := ledger.NewWalletStore(ledger.WalletStoreParams{DB: db, Node: node})
	journal := ledger.NewJournal(ledger.JournalParams{DB: db, Node: node})
	coord := ledger.NewCoordinator(ledger.CoordinatorParams{
		DB:       db,
		Node:     node,
		Config:   cfg,
		Wallets:  wallets,
		Journal:  journal,
		Accounts: dir,
	})

	splitter, err := commission.NewSplitter(commission.SplitterParams{Config: cfg})
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(ledger.ServiceParams{
		DB:          db,
		Config:      cfg,
		Coordinator: coord,
		Wallets:     wallets,
		Journal:     journal,
		Splitter:    splitter,
	})

	svc := NewService(ServiceParams{DB: db, Node: node, Ledger: ledgerSvc})
	require.NoError(t, svc.Bootstrap(context.Background()))

	return svc, dir, db
}

func TestBootstrapProvisionsSystemAccounts(t *testing.T) {
	svc, dir, _ := newTestService(t)

	for _, id := range []string{
		ledger.SystemMintAccountID,
		ledger.SystemExpiredAccountID,
		ledger.PlatformTreasuryAccountID,
	} {
		ref, err := dir.Lookup(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, ref, id)
		require.True(t, ref.Active)
	}

	// Re-running must be a no-op.
	require.NoError(t, svc.Bootstrap(context.Background()))
}

func TestCreateUserGrantsSignupBonus(t *testing.T) {
	svc, dir, _ := newTestService(t)

	acct, err := svc.Create(context.Background(), CreateRequest{
		Kind:        string(KindUser),
		DisplayName: "Alice",
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, acct.Status)

	ref, err := dir.Lookup(context.Background(), acct.ID)
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.Equal(t, string(KindUser), ref.Kind)

	balance, err := svc.ledger.GetBalance(context.Background(), acct.ID)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.Balance)
}

func TestCreateBotSkipsSignupBonus(t *testing.T) {
	svc, _, _ := newTestService(t)

	acct, err := svc.Create(context.Background(), CreateRequest{Kind: string(KindBot)})
	require.NoError(t, err)

	balance, err := svc.ledger.GetBalance(context.Background(), acct.ID)
	require.NoError(t, err)
	require.Zero(t, balance.Balance)
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateRequest{Kind: "alien"})
	require.Error(t, err)

	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusValidationFailed, base.Code)
}

func TestDeactivateStopsDirectoryVouching(t *testing.T) {
	svc, dir, _ := newTestService(t)

	acct, err := svc.Create(context.Background(), CreateRequest{Kind: string(KindUser)})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(context.Background(), acct.ID))

	ref, err := dir.Lookup(context.Background(), acct.ID)
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.False(t, ref.Active)
}

func TestDeactivatedAccountCannotTransact(t *testing.T) {
	svc, _, _ := newTestService(t)

	alice, err := svc.Create(context.Background(), CreateRequest{Kind: string(KindUser)})
	require.NoError(t, err)
	bob, err := svc.Create(context.Background(), CreateRequest{Kind: string(KindUser)})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(context.Background(), bob.ID))

	_, err = svc.ledger.Transfer(context.Background(), ledger.TransferRequest{
		FromAccountID: alice.ID,
		ToAccountID:   bob.ID,
		Amount:        10,
	})
	require.Error(t, err)
	require.Equal(t, ledger.ReasonAccountInactive, errutil.Reason(err))
}
