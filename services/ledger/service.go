package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coinledger/pkg/config"
	"coinledger/pkg/db/option"
	"coinledger/pkg/db/pagination"
	"coinledger/pkg/errutil"
	"coinledger/pkg/repository"
	"coinledger/services/audit"
	"coinledger/services/commission"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service is the application surface over the coordinator: it shapes caller
// requests into intents, splits commissions, issues signup bonuses and
// answers balance and history queries.
type Service struct {
	db          *gorm.DB
	coordinator *Coordinator
	wallets     *WalletStore
	journal     *Journal
	splitter    *commission.Splitter
	auditor     audit.Recorder

	txs     repository.Repository[LedgerTransaction]
	batches repository.Repository[EarnBatch]

	signupBonus   int64
	expiryHorizon time.Duration
	pageDefault   int
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Config      *config.Config
	Coordinator *Coordinator
	Wallets     *WalletStore
	Journal     *Journal
	Splitter    *commission.Splitter

	Auditor audit.Recorder `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:            p.DB,
		coordinator:   p.Coordinator,
		wallets:       p.Wallets,
		journal:       p.Journal,
		splitter:      p.Splitter,
		auditor:       p.Auditor,
		txs:           repository.ProvideStore[LedgerTransaction](p.DB),
		batches:       repository.ProvideStore[EarnBatch](p.DB),
		signupBonus:   p.Config.Ledger.SignupBonus,
		expiryHorizon: p.Config.Ledger.ExpiryHorizon,
		pageDefault:   p.Config.Ledger.HistoryPageDefault,
	}
}

type TransferRequest struct {
	FromAccountID  string `json:"from_account_id" binding:"required"`
	ToAccountID    string `json:"to_account_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*LedgerTransaction, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	return s.coordinator.Execute(ctx, Intent{
		Type:               TypeTransfer,
		InitiatorAccountID: req.FromAccountID,
		FromAccountID:      req.FromAccountID,
		ToAccountID:        req.ToAccountID,
		Amount:             req.Amount,
		IdempotencyKey:     req.IdempotencyKey,
		Context:            &TransferContext{Description: req.Description},
	})
}

type RewardRequest struct {
	RecipientAccountID string `json:"recipient_account_id" binding:"required"`
	Amount             int64  `json:"amount" binding:"required"`
	Trigger            string `json:"trigger" binding:"required"`
	Channel            string `json:"channel"`
	IdempotencyKey     string `json:"idempotency_key"`
}

// Reward mints coins against the system treasury for a recognized forum
// event. Unknown triggers are rejected before any transaction is opened.
func (s *Service) Reward(ctx context.Context, req RewardRequest) (*LedgerTransaction, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	trigger := Trigger(req.Trigger)
	if !trigger.Valid() {
		return nil, errInvalidTrigger(req.Trigger)
	}

	return s.coordinator.Execute(ctx, Intent{
		Type:               TypeReward,
		InitiatorAccountID: SystemMintAccountID,
		FromAccountID:      SystemMintAccountID,
		ToAccountID:        req.RecipientAccountID,
		Amount:             req.Amount,
		IdempotencyKey:     req.IdempotencyKey,
		Context:            &RewardContext{Trigger: trigger, Channel: req.Channel},
	})
}

type PurchaseRequest struct {
	BuyerAccountID  string `json:"buyer_account_id" binding:"required"`
	SellerAccountID string `json:"seller_account_id" binding:"required"`
	ContentID       string `json:"content_id" binding:"required"`
	Amount          int64  `json:"amount" binding:"required"`
	IdempotencyKey  string `json:"idempotency_key"`
}

// Purchase debits the buyer for the full price and fans the credit into the
// seller and platform commission legs in a single transaction.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*LedgerTransaction, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	split := s.splitter.SplitPurchase(req.Amount)

	return s.coordinator.Execute(ctx, Intent{
		Type:               TypePurchase,
		InitiatorAccountID: req.BuyerAccountID,
		FromAccountID:      req.BuyerAccountID,
		ToAccountID:        req.SellerAccountID,
		Amount:             req.Amount,
		IdempotencyKey:     req.IdempotencyKey,
		Context: &PurchaseContext{
			ContentID:     req.ContentID,
			SellerShare:   split.SellerShare,
			PlatformShare: split.PlatformShare,
		},
	})
}

type RefundRequest struct {
	TransactionID      string `json:"transaction_id" binding:"required"`
	InitiatorAccountID string `json:"initiator_account_id" binding:"required"`
}

// Refund reverses a closed purchase or transfer. The commission legs of a
// purchase are unwound from the seller and the platform treasury so the
// buyer recovers the full price. The idempotency key is always derived from
// the original transaction, so a given transaction can be refunded at most
// once no matter how many times the call is made.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*LedgerTransaction, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	original, err := s.txs.FindOne(ctx, &LedgerTransaction{ID: req.TransactionID})
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, errNotFoundTransaction(req.TransactionID)
	}
	if original.Status != StatusClosed {
		return nil, errNotRefundable(req.TransactionID)
	}

	refundCtx := &RefundContext{OriginalTransactionID: original.ID}

	switch original.Type {
	case TypePurchase:
		decoded, derr := DecodeContext(original.Type, original.Context)
		if derr != nil {
			return nil, derr
		}
		pc := decoded.(*PurchaseContext)
		refundCtx.SellerShare = pc.SellerShare
		refundCtx.PlatformShare = pc.PlatformShare
	case TypeTransfer:
		// plain reversal
	default:
		return nil, errNotRefundable(req.TransactionID)
	}

	return s.coordinator.Execute(ctx, Intent{
		Type:               TypeRefund,
		InitiatorAccountID: req.InitiatorAccountID,
		FromAccountID:      original.ToAccountID,
		ToAccountID:        original.FromAccountID,
		Amount:             original.Amount,
		IdempotencyKey:     "refund:" + original.ID,
		Context:            refundCtx,
	})
}

type AdjustRequest struct {
	AccountID      string `json:"account_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	Reason         string `json:"reason" binding:"required"`
	AdminID        string `json:"admin_id" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

// AdjustBalance applies a signed admin correction. Positive amounts mint
// into the account, negative amounts burn from it; both land in the journal
// and the audit trail.
func (s *Service) AdjustBalance(ctx context.Context, req AdjustRequest) (*LedgerTransaction, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if req.Amount == 0 {
		return nil, errInvalidAmount(req.Amount)
	}

	intent := Intent{
		Type:               TypeAdjustment,
		InitiatorAccountID: req.AdminID,
		IdempotencyKey:     req.IdempotencyKey,
		Context:            &AdjustContext{Reason: req.Reason, AdminID: req.AdminID},
	}
	if req.Amount > 0 {
		intent.FromAccountID = SystemMintAccountID
		intent.ToAccountID = req.AccountID
		intent.Amount = req.Amount
	} else {
		intent.FromAccountID = req.AccountID
		intent.ToAccountID = SystemMintAccountID
		intent.Amount = -req.Amount
	}

	txRow, err := s.coordinator.Execute(ctx, intent)
	if err != nil {
		return nil, err
	}

	if s.auditor != nil {
		if aerr := s.auditor.Record(ctx, audit.Entry{
			ActorID:  req.AdminID,
			Action:   "ledger.adjust_balance",
			TargetID: req.AccountID,
			Detail: map[string]any{
				"amount":         req.Amount,
				"reason":         req.Reason,
				"transaction_id": txRow.ID,
			},
		}); aerr != nil {
			zap.L().Error("failed to record adjustment audit entry",
				zap.String("transaction_id", txRow.ID),
				zap.Error(aerr),
			)
		}
	}

	return txRow, nil
}

// GrantSignupBonus opens the account's ledger life with the configured
// welcome grant. The built-in idempotency key makes the grant once-only per
// account.
func (s *Service) GrantSignupBonus(ctx context.Context, accountID string) (*LedgerTransaction, error) {
	if s.signupBonus <= 0 {
		return nil, nil
	}

	return s.coordinator.Execute(ctx, Intent{
		Type:               TypeSignupBonus,
		InitiatorAccountID: SystemMintAccountID,
		FromAccountID:      SystemMintAccountID,
		ToAccountID:        accountID,
		Amount:             s.signupBonus,
		IdempotencyKey:     "signup:" + accountID,
		Context:            &SignupContext{},
	})
}

// ProvisionWallet creates the zero-balance wallet for a new account.
func (s *Service) ProvisionWallet(ctx context.Context, accountID string) (*Wallet, error) {
	return s.wallets.Create(ctx, accountID)
}

// EnsureWallet provisions the wallet if the account does not have one yet.
func (s *Service) EnsureWallet(ctx context.Context, accountID string) (*Wallet, error) {
	wallet, err := s.wallets.ByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		return wallet, nil
	}
	return s.wallets.Create(ctx, accountID)
}

// Balance is the full balance view for one account.
type Balance struct {
	AccountID      string `json:"account_id"`
	Balance        int64  `json:"balance"`
	Available      int64  `json:"available"`
	LifetimeEarned int64  `json:"lifetime_earned"`
	LifetimeSpent  int64  `json:"lifetime_spent"`
	ExpiringSoon   int64  `json:"expiring_soon"`
}

// GetBalance reports current, available and soon-to-expire balances.
// ExpiringSoon covers earn batches that will cross the horizon within the
// next seven days.
func (s *Service) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	wallet, err := s.wallets.ByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, errAccountNotFound(accountID)
	}

	available, err := s.wallets.AvailableBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}

	expiring, err := s.expiringSoon(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	return &Balance{
		AccountID:      accountID,
		Balance:        wallet.Balance,
		Available:      available,
		LifetimeEarned: wallet.LifetimeEarned,
		LifetimeSpent:  wallet.LifetimeSpent,
		ExpiringSoon:   expiring,
	}, nil
}

func (s *Service) expiringSoon(ctx context.Context, walletID string) (int64, error) {
	cutoff := time.Now().Add(7 * 24 * time.Hour).Add(-s.expiryHorizon)

	var total *int64
	err := s.db.WithContext(ctx).
		Model(&EarnBatch{}).
		Select("SUM(remaining)").
		Where("wallet_id = ? AND remaining > 0 AND earned_at < ?", walletID, cutoff).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// TransactionPage is one page of an account's transaction history, newest
// first.
type TransactionPage struct {
	Transactions []*LedgerTransaction `json:"transactions"`
	PageInfo     *pagination.PageInfo `json:"page_info"`
}

// History directions. Empty means both sides.
const (
	DirectionIncoming = "in"
	DirectionOutgoing = "out"
)

// Sort orders for transaction history.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// HistoryQuery selects an account's transaction listing: incoming/outgoing
// filter, insertion-order or reverse-chronological sort, cursor page.
type HistoryQuery struct {
	Direction string `form:"direction"`
	Order     string `form:"order"`
	pagination.Pagination
}

// ListTransactions returns the account's closed and failed transactions,
// cursor-paginated on (created_at, id).
func (s *Service) ListTransactions(ctx context.Context, accountID string, q HistoryQuery) (*TransactionPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = s.pageDefault
	}

	order := strings.ToLower(q.Order)
	switch order {
	case "":
		order = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return nil, errutil.BadRequest(fmt.Sprintf("unknown order %q", q.Order))
	}

	query := s.db.WithContext(ctx).
		Model(&LedgerTransaction{}).
		Where("status <> ?", StatusPending)

	switch q.Direction {
	case DirectionIncoming:
		query = query.Where("to_account_id = ?", accountID)
	case DirectionOutgoing:
		query = query.Where("from_account_id = ?", accountID)
	case "":
		query = query.Where("from_account_id = ? OR to_account_id = ?", accountID, accountID)
	default:
		return nil, errutil.BadRequest(fmt.Sprintf("unknown direction %q", q.Direction))
	}

	query = option.Apply(query,
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: order,
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(limit+1),
	)
	if order == OrderAsc {
		query = query.Order("id ASC")
	} else {
		query = query.Order("id DESC")
	}

	if q.Cursor != "" {
		cursor, err := pagination.DecodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		at, terr := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if terr != nil {
			return nil, terr
		}
		cmp := "(created_at < ?) OR (created_at = ? AND id < ?)"
		if order == OrderAsc {
			cmp = "(created_at > ?) OR (created_at = ? AND id > ?)"
		}
		query = query.Where(cmp, at, at, cursor.ID)
	}

	var rows []*LedgerTransaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	data, pageInfo, err := pagination.BuildCursorPageInfo(rows, limit, func(t *LedgerTransaction) pagination.Cursor {
		return pagination.Cursor{
			CreatedAt: t.CreatedAt.Format(time.RFC3339Nano),
			ID:        t.ID,
		}
	})
	if err != nil {
		return nil, err
	}

	return &TransactionPage{Transactions: data, PageInfo: pageInfo}, nil
}

// GetTransaction fetches one transaction by ID.
func (s *Service) GetTransaction(ctx context.Context, transactionID string) (*LedgerTransaction, error) {
	txRow, err := s.txs.FindOne(ctx, &LedgerTransaction{ID: transactionID})
	if err != nil {
		return nil, err
	}
	if txRow == nil {
		return nil, errNotFoundTransaction(transactionID)
	}
	return txRow, nil
}

// Entries returns the journal legs of one transaction.
func (s *Service) Entries(ctx context.Context, transactionID string) ([]*JournalEntry, error) {
	return s.journal.ByTransaction(ctx, transactionID)
}

type HoldRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
}

// Reserve earmarks part of an available balance for a pending checkout.
func (s *Service) Reserve(ctx context.Context, req HoldRequest) (*WalletHold, error) {
	return s.wallets.Reserve(ctx, req.AccountID, req.Amount)
}

func (s *Service) ReleaseHold(ctx context.Context, holdID string) error {
	return s.wallets.ReleaseHold(ctx, holdID)
}
