package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coinledger/pkg/config"
	"coinledger/pkg/db/pagination"
	"coinledger/pkg/errutil"
	"coinledger/services/audit"
	"coinledger/services/commission"
)

type fakeRecorder struct {
	entries []audit.Entry
}

func (r *fakeRecorder) Record(_ context.Context, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func newServiceHarness(t *testing.T) (*harness, *Service, *fakeRecorder) {
	h := newHarness(t)

	cfg := &config.Config{}
	cfg.Ledger.SignupBonus = 100
	cfg.Ledger.ExpiryHorizon = 90 * 24 * time.Hour
	cfg.Ledger.PlatformSharePct = 20
	cfg.Ledger.HistoryPageDefault = 25

	splitter, err := commission.NewSplitter(commission.SplitterParams{Config: cfg})
	require.NoError(t, err)

	recorder := &fakeRecorder{}

	svc := NewService(ServiceParams{
		DB:          h.coord.db,
		Config:      cfg,
		Coordinator: h.coord,
		Wallets:     h.wallets,
		Journal:     h.journal,
		Splitter:    splitter,
		Auditor:     recorder,
	})
	return h, svc, recorder
}

func TestRewardRejectsUnknownTrigger(t *testing.T) {
	h, svc, _ := newServiceHarness(t)
	h.addAccount("alice", KindUser)

	_, err := svc.Reward(context.Background(), RewardRequest{
		RecipientAccountID: "alice",
		Amount:             50,
		Trigger:            "rain-dance",
	})
	require.Error(t, err)
	require.Equal(t, ReasonInvalidTrigger, errutil.Reason(err))
	require.Equal(t, int64(0), h.balance("alice"))
}

func TestRewardMintsForKnownTrigger(t *testing.T) {
	h, svc, _ := newServiceHarness(t)
	h.addAccount("alice", KindUser)

	txRow, err := svc.Reward(context.Background(), RewardRequest{
		RecipientAccountID: "alice",
		Amount:             50,
		Trigger:            string(TriggerThreadCreated),
		Channel:            "forum",
	})
	require.NoError(t, err)
	require.Equal(t, StatusClosed, txRow.Status)
	require.Equal(t, int64(50), h.balance("alice"))
	require.Equal(t, int64(-50), h.balance(SystemMintAccountID))
}

func TestPurchaseUsesConfiguredCommission(t *testing.T) {
	h, svc, _ := newServiceHarness(t)
	h.addAccount("buyer", KindUser)
	h.addAccount("seller", KindUser)
	h.fund("buyer", 250)

	_, err := svc.Purchase(context.Background(), PurchaseRequest{
		BuyerAccountID:  "buyer",
		SellerAccountID: "seller",
		ContentID:       "signal-7",
		Amount:          250,
	})
	require.NoError(t, err)

	require.Equal(t, int64(0), h.balance("buyer"))
	require.Equal(t, int64(200), h.balance("seller"))
	require.Equal(t, int64(50), h.balance(PlatformTreasuryAccountID))
}

func TestRefundRestoresBuyer(t *testing.T) {
	h, svc, _ := newServiceHarness(t)
	h.addAccount("buyer", KindUser)
	h.addAccount("seller", KindUser)
	h.fund("buyer", 100)

	purchase, err := svc.Purchase(context.Background(), PurchaseRequest{
		BuyerAccountID:  "buyer",
		SellerAccountID: "seller",
		ContentID:       "signal-7",
		Amount:          100,
	})
	require.NoError(t, err)

	refund, err := svc.Refund(context.Background(), RefundRequest{
		TransactionID:      purchase.ID,
		InitiatorAccountID: "admin-1",
	})
	require.NoError(t, err)
	require.Equal(t, StatusClosed, refund.Status)
	require.Equal(t, int64(100), h.balance("buyer"))
	require.Equal(t, int64(0), h.balance("seller"))
	require.Equal(t, int64(0), h.balance(PlatformTreasuryAccountID))

	// The built-in key makes a second refund replay the first.
	again, err := svc.Refund(context.Background(), RefundRequest{
		TransactionID:      purchase.ID,
		InitiatorAccountID: "admin-1",
	})
	require.NoError(t, err)
	require.Equal(t, refund.ID, again.ID)
	require.Equal(t, int64(100), h.balance("buyer"))
}

func TestRefundCannotDrainTreasuryTwice(t *testing.T) {
	h, svc, _ := newServiceHarness(t)
	h.addAccount("buyer", KindUser)
	h.addAccount("seller", KindUser)
	h.fund("buyer", 100)
	// Commissions retained from earlier sales.
	h.fund(PlatformTreasuryAccountID, 100)

	purchase, err := svc.Purchase(context.Background(), PurchaseRequest{
		BuyerAccountID:  "buyer",
		SellerAccountID: "seller",
		ContentID:       "signal-9",
		Amount:          100,
	})
	require.NoError(t, err)
	require.Equal(t, int64(120), h.balance(PlatformTreasuryAccountID))

	// Repeated refund attempts from different callers all replay the first
	// refund; the key is derived from the purchase, not the request.
	var firstID string
	for _, admin := range []string{"admin-1", "admin-2", "admin-3"} {
		refund, rerr := svc.Refund(context.Background(), RefundRequest{
			TransactionID:      purchase.ID,
			InitiatorAccountID: admin,
		})
		require.NoError(t, rerr)
		if firstID == "" {
			firstID = refund.ID
		}
		require.Equal(t, firstID, refund.ID)
	}

	require.Equal(t, int64(100), h.balance("buyer"))
	require.Equal(t, int64(0), h.balance("seller"))
	require.Equal(t, int64(100), h.balance(PlatformTreasuryAccountID))
}

func TestRefundRejectsNonRefundableTypes(t *testing.T) {
	h, svc, _ := newServiceHarness(t)
	h.addAccount("alice", KindUser)

	reward := h.reward("alice", 50, "")

	_, err := svc.Refund(context.Background(), RefundRequest{
		TransactionID:      reward.ID,
		InitiatorAccountID: "admin-1",
	})
	require.Error(t, err)
	require.Equal(t, ReasonNotRefundable, errutil.Reason(err))
}

func TestAdjustBalanceRecordsAudit(t *testing.T) {
	h, svc, recorder := newServiceHarness(t)
	h.addAccount("alice", KindUser)

	txRow, err := svc.AdjustBalance(context.Background(), AdjustRequest{
		AccountID: "alice",
		Amount:    75,
		Reason:    "support goodwill",
		AdminID:   "admin-1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(75), h.balance("alice"))

	require.Len(t, recorder.entries, 1)
	require.Equal(t, "admin-1", recorder.entries[0].ActorID)
	require.Equal(t, "alice", recorder.entries[0].TargetID)
	require.Equal(t, txRow.ID, recorder.entries[0].Detail["transaction_id"])

	// Negative adjustments burn back into the mint.
	_, err = svc.AdjustBalance(context.Background(), AdjustRequest{
		AccountID: "alice",
		Amount:    -25,
		Reason:    "abuse rollback",
		AdminID:   "admin-1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(50), h.balance("alice"))
}

func TestGrantSignupBonusIsOncePerAccount(t *testing.T) {
	h, svc, _ := newServiceHarness(t)
	h.addAccount("alice", KindUser)

	first, err := svc.GrantSignupBonus(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(100), h.balance("alice"))

	second, err := svc.GrantSignupBonus(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int64(100), h.balance("alice"))

	// Signup bonuses are earned coins, so they open a batch.
	var batch EarnBatch
	require.NoError(t, h.coord.db.Where("account_id = ?", "alice").First(&batch).Error)
	require.Equal(t, int64(100), batch.Remaining)
}

func TestGetBalanceReportsAvailableAndLifetime(t *testing.T) {
	h, svc, _ := newServiceHarness(t)
	h.addAccount("alice", KindUser)
	h.reward("alice", 200, "")

	hold, err := svc.Reserve(context.Background(), HoldRequest{AccountID: "alice", Amount: 50})
	require.NoError(t, err)

	balance, err := svc.GetBalance(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(200), balance.Balance)
	require.Equal(t, int64(150), balance.Available)
	require.Equal(t, int64(200), balance.LifetimeEarned)

	require.NoError(t, svc.ReleaseHold(context.Background(), hold.ID))

	balance, err = svc.GetBalance(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(200), balance.Available)
}

func TestListTransactionsPaginates(t *testing.T) {
	h, svc, _ := newServiceHarness(t)
	h.addAccount("alice", KindUser)
	h.addAccount("bob", KindUser)
	h.fund("alice", 1000)

	for i := 0; i < 5; i++ {
		_, err := h.coord.Execute(context.Background(), Intent{
			Type:          TypeTransfer,
			FromAccountID: "alice",
			ToAccountID:   "bob",
			Amount:        10,
		})
		require.NoError(t, err)
	}

	page, err := svc.ListTransactions(context.Background(), "alice", HistoryQuery{
		Pagination: pagination.Pagination{Limit: 3},
	})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 3)
	require.True(t, page.PageInfo.HasMore)
	require.NotEmpty(t, page.PageInfo.NextCursor)

	rest, err := svc.ListTransactions(context.Background(), "alice", HistoryQuery{
		Pagination: pagination.Pagination{Limit: 10, Cursor: page.PageInfo.NextCursor},
	})
	require.NoError(t, err)
	// 5 transfers + the seed adjustment, minus the first page of 3.
	require.Len(t, rest.Transactions, 3)
	require.False(t, rest.PageInfo.HasMore)

	seen := map[string]bool{}
	for _, txRow := range append(page.Transactions, rest.Transactions...) {
		require.False(t, seen[txRow.ID], "pages must not overlap")
		seen[txRow.ID] = true
	}

	// Ascending pages walk the same rows oldest-first.
	asc, err := svc.ListTransactions(context.Background(), "alice", HistoryQuery{
		Order:      OrderAsc,
		Pagination: pagination.Pagination{Limit: 3},
	})
	require.NoError(t, err)
	require.Len(t, asc.Transactions, 3)
	require.True(t, asc.PageInfo.HasMore)

	ascRest, err := svc.ListTransactions(context.Background(), "alice", HistoryQuery{
		Order:      OrderAsc,
		Pagination: pagination.Pagination{Limit: 10, Cursor: asc.PageInfo.NextCursor},
	})
	require.NoError(t, err)
	require.Len(t, ascRest.Transactions, 3)

	ordered := append(asc.Transactions, ascRest.Transactions...)
	require.Len(t, ordered, 6)
	for i := range ordered {
		require.True(t, seen[ordered[i].ID])
		if i > 0 {
			require.False(t, ordered[i].CreatedAt.Before(ordered[i-1].CreatedAt))
		}
	}
	// Reverse-chronological and insertion-order listings are mirrors.
	require.Equal(t, ordered[0].ID, rest.Transactions[len(rest.Transactions)-1].ID)
	require.Equal(t, ordered[len(ordered)-1].ID, page.Transactions[0].ID)

	_, err = svc.ListTransactions(context.Background(), "alice", HistoryQuery{Order: "newest"})
	require.Error(t, err)
}

func TestListTransactionsDirectionFilter(t *testing.T) {
	h, svc, _ := newServiceHarness(t)
	h.addAccount("alice", KindUser)
	h.addAccount("bob", KindUser)
	h.fund("alice", 1000)

	for i := 0; i < 4; i++ {
		_, err := h.coord.Execute(context.Background(), Intent{
			Type:          TypeTransfer,
			FromAccountID: "alice",
			ToAccountID:   "bob",
			Amount:        25,
		})
		require.NoError(t, err)
	}

	out, err := svc.ListTransactions(context.Background(), "alice", HistoryQuery{
		Direction:  DirectionOutgoing,
		Pagination: pagination.Pagination{Limit: 10},
	})
	require.NoError(t, err)
	require.Len(t, out.Transactions, 4)
	for _, row := range out.Transactions {
		require.Equal(t, "alice", row.FromAccountID)
	}

	in, err := svc.ListTransactions(context.Background(), "alice", HistoryQuery{
		Direction:  DirectionIncoming,
		Pagination: pagination.Pagination{Limit: 10},
	})
	require.NoError(t, err)
	require.Len(t, in.Transactions, 1) // the seed adjustment

	_, err = svc.ListTransactions(context.Background(), "alice", HistoryQuery{Direction: "sideways"})
	require.Error(t, err)
}
