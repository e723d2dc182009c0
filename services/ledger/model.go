package ledger

import (
	"time"

	"gorm.io/datatypes"
)

type TransactionType string

const (
	TypeTransfer    TransactionType = "transfer"
	TypeReward      TransactionType = "reward"
	TypePurchase    TransactionType = "purchase"
	TypeRefund      TransactionType = "refund"
	TypeExpire      TransactionType = "expire"
	TypeAdjustment  TransactionType = "adjustment"
	TypeSignupBonus TransactionType = "signup_bonus"
)

type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusClosed  TransactionStatus = "closed"
	StatusFailed  TransactionStatus = "failed"
)

type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// Well-known system accounts. The mint treasury is the counterparty for coin
// creation and burn, and is the only wallet allowed to hold a negative
// balance; the books then sum to zero across every wallet at all times.
const (
	SystemMintAccountID       = "system:mint"
	SystemExpiredAccountID    = "system:expired"
	PlatformTreasuryAccountID = "platform:treasury"
)

// Wallet is the cached balance projection for one account. It is only ever
// mutated by the coordinator and must stay re-derivable from the journal.
type Wallet struct {
	ID             string    `gorm:"column:id;primaryKey"`
	AccountID      string    `gorm:"column:account_id;uniqueIndex;not null"`
	Balance        int64     `gorm:"column:balance;not null"`
	LifetimeEarned int64     `gorm:"column:lifetime_earned;not null"`
	LifetimeSpent  int64     `gorm:"column:lifetime_spent;not null"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

type HoldStatus string

const (
	HoldActive   HoldStatus = "active"
	HoldReleased HoldStatus = "released"
)

// WalletHold earmarks part of a balance. Active holds reduce the available
// balance but not the balance itself.
type WalletHold struct {
	ID         string     `gorm:"column:id;primaryKey"`
	WalletID   string     `gorm:"column:wallet_id;index;not null"`
	Amount     int64      `gorm:"column:amount;not null"`
	Status     HoldStatus `gorm:"column:status;type:varchar(20);not null"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	ReleasedAt *time.Time `gorm:"column:released_at"`
}

// LedgerTransaction is one logical economic event. Terminal states are
// closed and failed; a failed transaction has zero wallet effect and its
// idempotency key is released so the caller can retry the whole intent.
type LedgerTransaction struct {
	ID                 string            `gorm:"column:id;primaryKey"`
	Code               string            `gorm:"column:code;uniqueIndex"`
	Type               TransactionType   `gorm:"column:type;type:varchar(20);not null"`
	Status             TransactionStatus `gorm:"column:status;type:varchar(20);not null"`
	InitiatorAccountID string            `gorm:"column:initiator_account_id;index;not null"`
	FromAccountID      string            `gorm:"column:from_account_id;index;not null"`
	ToAccountID        string            `gorm:"column:to_account_id;index;not null"`
	Amount             int64             `gorm:"column:amount;not null"`
	IdempotencyKey     *string           `gorm:"column:idempotency_key;uniqueIndex"`
	Context            datatypes.JSON    `gorm:"column:context"`
	FailureReason      string            `gorm:"column:failure_reason"`
	CreatedAt          time.Time         `gorm:"column:created_at;index"`
	ClosedAt           *time.Time        `gorm:"column:closed_at"`
}

// JournalEntry is a single immutable debit or credit against one wallet.
// Entries are never updated or deleted; corrections are new entries in a new
// transaction.
type JournalEntry struct {
	ID            string    `gorm:"column:id;primaryKey"`
	TransactionID string    `gorm:"column:transaction_id;index;not null"`
	WalletID      string    `gorm:"column:wallet_id;index;not null"`
	Direction     Direction `gorm:"column:direction;type:varchar(10);not null"`
	Amount        int64     `gorm:"column:amount;not null"`
	BalanceBefore int64     `gorm:"column:balance_before;not null"`
	BalanceAfter  int64     `gorm:"column:balance_after;not null"`
	Memo          string    `gorm:"column:memo"`
	CreatedAt     time.Time `gorm:"column:created_at;index"`
}

// EarnBatch tracks the unconsumed remainder of one earn-type credit.
// Ordinary spends drain batches oldest-first; the expiration engine reverses
// whatever is left past the horizon. Transfers-in and purchase credits do
// not open batches and therefore never expire.
type EarnBatch struct {
	ID         string     `gorm:"column:id;primaryKey"`
	EntryID    string     `gorm:"column:entry_id;index;not null"`
	WalletID   string     `gorm:"column:wallet_id;index;not null"`
	AccountID  string     `gorm:"column:account_id;index;not null"`
	Amount     int64      `gorm:"column:amount;not null"`
	Remaining  int64      `gorm:"column:remaining;not null"`
	EarnedAt   time.Time  `gorm:"column:earned_at;index"`
	ConsumedAt *time.Time `gorm:"column:consumed_at"`
}

// Models lists every table owned by the ledger core, in migration order.
func Models() []any {
	return []any{
		&Wallet{},
		&WalletHold{},
		&LedgerTransaction{},
		&JournalEntry{},
		&EarnBatch{},
	}
}
