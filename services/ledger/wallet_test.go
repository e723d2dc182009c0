package ledger

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"coinledger/pkg/errutil"
	"coinledger/services/testutil"
)

func newWalletStore(t *testing.T) *WalletStore {
	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewWalletStore(WalletStoreParams{DB: db, Node: node})
}

func TestCreateWalletStartsAtZero(t *testing.T) {
	s := newWalletStore(t)

	wallet, err := s.Create(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(0), wallet.Balance)

	found, err := s.ByAccount(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, wallet.ID, found.ID)

	missing, err := s.ByAccount(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestApplyDeltaDetectsStaleBalance(t *testing.T) {
	s := newWalletStore(t)

	wallet, err := s.Create(context.Background(), "alice")
	require.NoError(t, err)

	require.NoError(t, s.ApplyDelta(context.Background(), s.db, wallet.ID, 100, 0))

	// A writer holding the stale zero balance must lose.
	err = s.ApplyDelta(context.Background(), s.db, wallet.ID, 50, 0)
	require.ErrorIs(t, err, ErrConcurrentModification)

	balance, err := s.GetBalance(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance)
}

func TestApplyDeltaTracksLifetimeCounters(t *testing.T) {
	s := newWalletStore(t)

	wallet, err := s.Create(context.Background(), "alice")
	require.NoError(t, err)

	require.NoError(t, s.ApplyDelta(context.Background(), s.db, wallet.ID, 100, 0))
	require.NoError(t, s.ApplyDelta(context.Background(), s.db, wallet.ID, -30, 100))

	updated, err := s.ByAccount(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(70), updated.Balance)
	require.Equal(t, int64(100), updated.LifetimeEarned)
	require.Equal(t, int64(30), updated.LifetimeSpent)
}

func TestReserveRespectsAvailableBalance(t *testing.T) {
	s := newWalletStore(t)

	wallet, err := s.Create(context.Background(), "alice")
	require.NoError(t, err)
	require.NoError(t, s.ApplyDelta(context.Background(), s.db, wallet.ID, 100, 0))

	hold, err := s.Reserve(context.Background(), "alice", 80)
	require.NoError(t, err)
	require.Equal(t, HoldActive, hold.Status)

	available, err := s.AvailableBalance(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(20), available)

	_, err = s.Reserve(context.Background(), "alice", 30)
	require.Error(t, err)
	require.Equal(t, ReasonInsufficientFunds, errutil.Reason(err))

	require.NoError(t, s.ReleaseHold(context.Background(), hold.ID))

	available, err = s.AvailableBalance(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(100), available)
}
