package ledger

import (
	"context"
	"fmt"
	"time"

	"coinledger/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Posting is one planned journal leg. Before/After snapshot the wallet
// balance around the leg.
type Posting struct {
	WalletID  string
	Direction Direction
	Amount    int64
	Before    int64
	After     int64
	Memo      string
}

// Journal owns the append-only journal_entries table. There is no update or
// delete surface; corrections are new entries in a new transaction.
type Journal struct {
	node    *snowflake.Node
	entries repository.Repository[JournalEntry]
}

type JournalParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewJournal(p JournalParams) *Journal {
	return &Journal{
		node:    p.Node,
		entries: repository.ProvideStore[JournalEntry](p.DB),
	}
}

// Append writes a balanced set of entries for one transaction inside the
// given storage transaction. Either every entry lands or none does.
func (j *Journal) Append(ctx context.Context, tx *gorm.DB, transactionID string, postings ...Posting) ([]*JournalEntry, error) {
	if len(postings) < 2 {
		return nil, fmt.Errorf("journal: a transaction needs at least two legs, got %d", len(postings))
	}

	var debits, credits int64
	for _, p := range postings {
		if p.Amount <= 0 {
			return nil, fmt.Errorf("journal: non-positive leg amount %d for wallet %s", p.Amount, p.WalletID)
		}
		switch p.Direction {
		case Debit:
			debits += p.Amount
		case Credit:
			credits += p.Amount
		default:
			return nil, fmt.Errorf("journal: unknown direction %q", p.Direction)
		}
	}
	if debits != credits {
		return nil, fmt.Errorf("journal: unbalanced transaction, debits=%d credits=%d", debits, credits)
	}

	now := time.Now()
	entries := make([]*JournalEntry, 0, len(postings))
	for _, p := range postings {
		entries = append(entries, &JournalEntry{
			ID:            j.node.Generate().String(),
			TransactionID: transactionID,
			WalletID:      p.WalletID,
			Direction:     p.Direction,
			Amount:        p.Amount,
			BalanceBefore: p.Before,
			BalanceAfter:  p.After,
			Memo:          p.Memo,
			CreatedAt:     now,
		})
	}

	if err := j.entries.WithTrx(tx).BatchCreate(ctx, entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// AppendPair writes the common debit/credit pair.
func (j *Journal) AppendPair(ctx context.Context, tx *gorm.DB, transactionID string, debit, credit Posting) (*JournalEntry, *JournalEntry, error) {
	debit.Direction = Debit
	credit.Direction = Credit

	entries, err := j.Append(ctx, tx, transactionID, debit, credit)
	if err != nil {
		return nil, nil, err
	}
	return entries[0], entries[1], nil
}

// SignedSum re-derives a wallet balance from the journal: credits minus
// debits. Wallet.Balance must always equal this.
func (j *Journal) SignedSum(ctx context.Context, db *gorm.DB, walletID string) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).
		Model(&JournalEntry{}).
		Where("wallet_id = ?", walletID).
		Select("COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)").
		Scan(&sum).Error
	return sum, err
}

// ByTransaction lists the legs of one transaction in insertion order.
func (j *Journal) ByTransaction(ctx context.Context, transactionID string) ([]*JournalEntry, error) {
	return j.entries.Find(ctx, &JournalEntry{TransactionID: transactionID})
}
