package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"coinledger/pkg/config"
	"coinledger/services/ledger"
	"coinledger/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type staticDirectory struct {
	refs map[string]*ledger.AccountRef
}

func (d *staticDirectory) Lookup(_ context.Context, accountID string) (*ledger.AccountRef, error) {
	return d.refs[accountID], nil
}

type expiryHarness struct {
	t       *testing.T
	db      *gorm.DB
	dir     *staticDirectory
	coord   *ledger.Coordinator
	engine  *Engine
	wallets *ledger.WalletStore
}

func newExpiryHarness(t *testing.T) *expiryHarness {
	models := append(ledger.Models(), Models()...)
	db := testutil.NewTestDB(t, models...)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Ledger.MaxCommitRetries = 3
	cfg.Ledger.ExpiryHorizon = 90 * 24 * time.Hour

	wallets := ledger.NewWalletStore(ledger.WalletStoreParams{DB: db, Node: node})
	journal := ledger.NewJournal(ledger.JournalParams{DB: db, Node: node})
	dir := &staticDirectory{refs: map[string]*ledger.AccountRef{}}

	coord := ledger.NewCoordinator(ledger.CoordinatorParams{
		DB:       db,
		Node:     node,
		Config:   cfg,
		Wallets:  wallets,
		Journal:  journal,
		Accounts: dir,
	})

	engine := NewEngine(EngineParams{DB: db, Node: node, Config: cfg, Coordinator: coord})

	h := &expiryHarness{t: t, db: db, dir: dir, coord: coord, engine: engine}
	for _, id := range []string{
		ledger.SystemMintAccountID,
		ledger.SystemExpiredAccountID,
		ledger.PlatformTreasuryAccountID,
	} {
		h.addAccount(id, ledger.KindSystem, wallets)
	}
	h.wallets = wallets
	return h
}

func (h *expiryHarness) addAccount(accountID, kind string, wallets *ledger.WalletStore) {
	h.t.Helper()
	h.dir.refs[accountID] = &ledger.AccountRef{ID: accountID, Kind: kind, Active: true}
	_, err := wallets.Create(context.Background(), accountID)
	require.NoError(h.t, err)
}

func (h *expiryHarness) reward(accountID string, amount int64) {
	h.t.Helper()
	_, err := h.coord.Execute(context.Background(), ledger.Intent{
		Type:               ledger.TypeReward,
		InitiatorAccountID: ledger.SystemMintAccountID,
		FromAccountID:      ledger.SystemMintAccountID,
		ToAccountID:        accountID,
		Amount:             amount,
		Context:            &ledger.RewardContext{Trigger: ledger.TriggerReplyPosted},
	})
	require.NoError(h.t, err)
}

func (h *expiryHarness) ageBatches(accountID string, age time.Duration) {
	h.t.Helper()
	earnedAt := time.Now().Add(-age)
	require.NoError(h.t, h.db.Model(&ledger.EarnBatch{}).
		Where("account_id = ?", accountID).
		Update("earned_at", earnedAt).Error)
}

func (h *expiryHarness) balance(accountID string) int64 {
	h.t.Helper()
	balance, err := h.wallets.GetBalance(context.Background(), accountID)
	require.NoError(h.t, err)
	return balance
}

func TestSweepExpiresOverAgeBatches(t *testing.T) {
	h := newExpiryHarness(t)
	h.addAccount("alice", ledger.KindUser, h.wallets)

	h.reward("alice", 100)
	h.ageBatches("alice", 91*24*time.Hour)

	run, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, "success", run.Status)
	require.Equal(t, 1, run.BatchesExpired)
	require.Equal(t, int64(100), run.CoinsExpired)

	require.Equal(t, int64(0), h.balance("alice"))
	require.Equal(t, int64(100), h.balance(ledger.SystemExpiredAccountID))
}

func TestSweepLeavesFreshBatchesAlone(t *testing.T) {
	h := newExpiryHarness(t)
	h.addAccount("alice", ledger.KindUser, h.wallets)

	h.reward("alice", 100)

	run, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, run.BatchesExpired)
	require.Equal(t, int64(100), h.balance("alice"))
}

func TestSweepExpiresOnlyUnspentRemainder(t *testing.T) {
	h := newExpiryHarness(t)
	h.addAccount("alice", ledger.KindUser, h.wallets)
	h.addAccount("bob", ledger.KindUser, h.wallets)

	h.reward("alice", 100)

	_, err := h.coord.Execute(context.Background(), ledger.Intent{
		Type:          ledger.TypeTransfer,
		FromAccountID: "alice",
		ToAccountID:   "bob",
		Amount:        60,
	})
	require.NoError(t, err)

	h.ageBatches("alice", 91*24*time.Hour)

	run, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(40), run.CoinsExpired)
	require.Equal(t, int64(0), h.balance("alice"))
	require.Equal(t, int64(60), h.balance("bob"), "transferred coins never expire")
}

func TestSweepIsIdempotent(t *testing.T) {
	h := newExpiryHarness(t)
	h.addAccount("alice", ledger.KindUser, h.wallets)

	h.reward("alice", 100)
	h.ageBatches("alice", 91*24*time.Hour)

	first, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.BatchesExpired)

	second, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.BatchesExpired, "a drained batch must not be selected again")
	require.Equal(t, int64(100), h.balance(ledger.SystemExpiredAccountID))
}

func TestSweepSkipsSystemWallets(t *testing.T) {
	h := newExpiryHarness(t)
	h.addAccount("alice", ledger.KindUser, h.wallets)

	// Earn batches never open for the treasury in practice; plant one to
	// prove the sweep excludes it anyway.
	require.NoError(t, h.db.Create(&ledger.EarnBatch{
		ID:        "planted",
		EntryID:   "planted-entry",
		WalletID:  "planted-wallet",
		AccountID: ledger.PlatformTreasuryAccountID,
		Amount:    100,
		Remaining: 100,
		EarnedAt:  time.Now().Add(-200 * 24 * time.Hour),
	}).Error)

	run, err := h.engine.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, run.BatchesExpired)
}

func TestNextRunTimeRollsToTomorrow(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	next := nextRunTime(now, 2, 30)
	require.Equal(t, time.Date(2026, 8, 29, 2, 30, 0, 0, time.UTC), next)

	before := time.Date(2026, 8, 28, 1, 0, 0, 0, time.UTC)
	next = nextRunTime(before, 2, 30)
	require.Equal(t, time.Date(2026, 8, 28, 2, 30, 0, 0, time.UTC), next)
}
