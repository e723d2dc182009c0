package account

import (
	"time"
)

type Kind string

const (
	KindUser     Kind = "user"
	KindBot      Kind = "bot"
	KindSystem   Kind = "system"
	KindTreasury Kind = "platform_treasury"
)

func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindBot, KindSystem, KindTreasury:
		return true
	}
	return false
}

type Status string

const (
	StatusActive      Status = "active"
	StatusDeactivated Status = "deactivated"
)

// Account is a ledger participant. Deactivated accounts keep their wallet
// and history but can no longer take part in transactions.
type Account struct {
	ID          string    `gorm:"column:id;primaryKey"`
	Kind        Kind      `gorm:"column:kind;type:varchar(30);not null"`
	Status      Status    `gorm:"column:status;type:varchar(20);not null"`
	DisplayName string    `gorm:"column:display_name"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func Models() []any {
	return []any{&Account{}}
}
