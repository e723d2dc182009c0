package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// Trigger enumerates the forum events that may mint reward coins.
type Trigger string

const (
	TriggerThreadCreated        Trigger = "thread-created"
	TriggerReplyPosted          Trigger = "reply-posted"
	TriggerBrokerReviewVerified Trigger = "broker-review-verified"
	TriggerDailyLogin           Trigger = "daily-login"
	TriggerReferral             Trigger = "referral"
)

func (t Trigger) Valid() bool {
	switch t {
	case TriggerThreadCreated, TriggerReplyPosted, TriggerBrokerReviewVerified,
		TriggerDailyLogin, TriggerReferral:
		return true
	}
	return false
}

// AccountRef is the slice of account state the ledger needs from the
// directory collaborator.
type AccountRef struct {
	ID     string
	Kind   string
	Active bool
}

const (
	KindUser     = "user"
	KindBot      = "bot"
	KindSystem   = "system"
	KindTreasury = "platform_treasury"
)

// AccountDirectory resolves account existence and status. Lookup returns
// (nil, nil) for unknown accounts.
type AccountDirectory interface {
	Lookup(ctx context.Context, accountID string) (*AccountRef, error)
}

// TxContext is the closed set of typed payloads attached to a
// LedgerTransaction. Each transaction type has exactly one context shape, so
// expected fields are statically known.
type TxContext interface {
	ContextType() TransactionType
}

type TransferContext struct {
	Description string `json:"description,omitempty"`
}

func (TransferContext) ContextType() TransactionType { return TypeTransfer }

type RewardContext struct {
	Trigger Trigger `json:"trigger"`
	Channel string  `json:"channel,omitempty"`
}

func (RewardContext) ContextType() TransactionType { return TypeReward }

type PurchaseContext struct {
	ContentID     string `json:"content_id"`
	SellerShare   int64  `json:"seller_share"`
	PlatformShare int64  `json:"platform_share"`
}

func (PurchaseContext) ContextType() TransactionType { return TypePurchase }

type RefundContext struct {
	OriginalTransactionID string `json:"original_transaction_id"`
	SellerShare           int64  `json:"seller_share,omitempty"`
	PlatformShare         int64  `json:"platform_share,omitempty"`
}

func (RefundContext) ContextType() TransactionType { return TypeRefund }

type ExpireContext struct {
	BatchID string `json:"batch_id"`
}

func (ExpireContext) ContextType() TransactionType { return TypeExpire }

type AdjustContext struct {
	Reason  string `json:"reason"`
	AdminID string `json:"admin_id"`
}

func (AdjustContext) ContextType() TransactionType { return TypeAdjustment }

type SignupContext struct{}

func (SignupContext) ContextType() TransactionType { return TypeSignupBonus }

// Intent is a request for one atomic economic event. FromAccountID is the
// debit side, ToAccountID the (primary) credit side; purchase and refund
// intents fan out further legs from their context.
type Intent struct {
	Type               TransactionType
	InitiatorAccountID string
	FromAccountID      string
	ToAccountID        string
	Amount             int64
	IdempotencyKey     string
	Context            TxContext
}

// Validate covers the caller-independent preconditions: positive amount, no
// self-dealing, both parties named, context matching the type.
func (i Intent) Validate() error {
	if i.Amount <= 0 {
		return errInvalidAmount(i.Amount)
	}
	if i.FromAccountID == "" {
		return errAccountNotFound("")
	}
	if i.ToAccountID == "" {
		return errAccountNotFound("")
	}
	if i.FromAccountID == i.ToAccountID {
		return errSelfDealing(i.FromAccountID)
	}
	if i.Context != nil && i.Context.ContextType() != i.Type {
		return fmt.Errorf("context type %s does not match intent type %s", i.Context.ContextType(), i.Type)
	}
	return nil
}

func encodeContext(c TxContext) (datatypes.JSON, error) {
	if c == nil {
		return datatypes.JSON([]byte("{}")), nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// DecodeContext rebuilds the typed context from a stored transaction row.
func DecodeContext(t TransactionType, raw datatypes.JSON) (TxContext, error) {
	decode := func(dst TxContext) (TxContext, error) {
		if len(raw) == 0 {
			return dst, nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, err
		}
		return dst, nil
	}

	switch t {
	case TypeTransfer:
		return decode(&TransferContext{})
	case TypeReward:
		return decode(&RewardContext{})
	case TypePurchase:
		return decode(&PurchaseContext{})
	case TypeRefund:
		return decode(&RefundContext{})
	case TypeExpire:
		return decode(&ExpireContext{})
	case TypeAdjustment:
		return decode(&AdjustContext{})
	case TypeSignupBonus:
		return decode(&SignupContext{})
	default:
		return nil, fmt.Errorf("unknown transaction type %q", t)
	}
}
