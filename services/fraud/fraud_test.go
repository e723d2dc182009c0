package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coinledger/pkg/config"
	"coinledger/pkg/errutil"
	"coinledger/services/ledger"
	"coinledger/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newGuard(t *testing.T) *Guard {
	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Fraud.Window = time.Hour
	cfg.Fraud.MaxTransfers = 3
	cfg.Fraud.MaxAmount = 1_000
	cfg.Fraud.MaxPerRecipient = 2

	return NewGuard(GuardParams{
		DB:      db,
		Node:    node,
		Config:  cfg,
		Counter: NewMemoryCounter(),
	})
}

func transferIntent(from, to string, amount int64) ledger.Intent {
	return ledger.Intent{
		Type:               ledger.TypeTransfer,
		InitiatorAccountID: from,
		FromAccountID:      from,
		ToAccountID:        to,
		Amount:             amount,
	}
}

func TestEvaluateIgnoresNonVelocityTypes(t *testing.T) {
	g := newGuard(t)

	err := g.Evaluate(context.Background(), ledger.Intent{
		Type:          ledger.TypeReward,
		FromAccountID: ledger.SystemMintAccountID,
		ToAccountID:   "alice",
		Amount:        1_000_000,
	})
	require.NoError(t, err)
}

func TestEvaluateBlocksTransferCount(t *testing.T) {
	g := newGuard(t)

	for i := 0; i < 3; i++ {
		to := string(rune('a' + i))
		require.NoError(t, g.Evaluate(context.Background(), transferIntent("alice", to, 1)))
	}

	err := g.Evaluate(context.Background(), transferIntent("alice", "z", 1))
	require.Error(t, err)
	require.Equal(t, ledger.ReasonFraudBlocked, errutil.Reason(err))

	signal, err := g.signals.FindOne(context.Background(), &Signal{AccountID: "alice"})
	require.NoError(t, err)
	require.NotNil(t, signal)
	require.Equal(t, RuleTransferCount, signal.Rule)
	require.Equal(t, int64(4), signal.Observed)
	require.Equal(t, int64(3), signal.Limit)
}

func TestEvaluateBlocksTransferAmount(t *testing.T) {
	g := newGuard(t)

	require.NoError(t, g.Evaluate(context.Background(), transferIntent("alice", "bob", 900)))

	err := g.Evaluate(context.Background(), transferIntent("alice", "carol", 200))
	require.Error(t, err)
	require.Equal(t, ledger.ReasonFraudBlocked, errutil.Reason(err))
}

func TestEvaluateBlocksRecipientRepeats(t *testing.T) {
	g := newGuard(t)

	require.NoError(t, g.Evaluate(context.Background(), transferIntent("alice", "bob", 1)))
	require.NoError(t, g.Evaluate(context.Background(), transferIntent("alice", "bob", 1)))

	err := g.Evaluate(context.Background(), transferIntent("alice", "bob", 1))
	require.Error(t, err)
	require.Equal(t, ledger.ReasonFraudBlocked, errutil.Reason(err))
}

func TestMemoryCounterWindowReset(t *testing.T) {
	c := NewMemoryCounter()

	n, err := c.Incr(context.Background(), "k", 5, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	n, err = c.Incr(context.Background(), "k", 5, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(10), n)

	time.Sleep(15 * time.Millisecond)

	n, err = c.Incr(context.Background(), "k", 5, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(5), n, "expired window must reset the total")
}
