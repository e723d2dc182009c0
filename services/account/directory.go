package account

import (
	"context"

	"coinledger/pkg/repository"
	"coinledger/services/ledger"

	"gorm.io/gorm"
)

// Directory is the read-only account view the ledger core consults. It
// carries no write path so it can sit below the ledger in the dependency
// graph.
type Directory struct {
	accounts repository.Repository[Account]
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{accounts: repository.ProvideStore[Account](db)}
}

func (d *Directory) Lookup(ctx context.Context, accountID string) (*ledger.AccountRef, error) {
	acct, err := d.accounts.FindOne(ctx, &Account{ID: accountID})
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, nil
	}

	return &ledger.AccountRef{
		ID:     acct.ID,
		Kind:   string(acct.Kind),
		Active: acct.Status == StatusActive,
	}, nil
}
