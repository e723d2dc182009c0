package ledger

import (
	"errors"
	"fmt"

	"coinledger/pkg/errutil"
)

// Stable reason codes surfaced to API consumers. UI collaborators switch on
// these to render user-facing messages.
const (
	ReasonInvalidAmount     = "INVALID_AMOUNT"
	ReasonSelfDealing       = "SELF_DEALING"
	ReasonInsufficientFunds = "INSUFFICIENT_FUNDS"
	ReasonAccountNotFound   = "ACCOUNT_NOT_FOUND"
	ReasonAccountInactive   = "ACCOUNT_INACTIVE"
	ReasonFraudBlocked      = "FRAUD_BLOCKED"
	ReasonPolicyViolation   = "POLICY_VIOLATION"
	ReasonConflict          = "CONFLICT"
	ReasonInvalidTrigger    = "INVALID_TRIGGER"
	ReasonNotRefundable     = "NOT_REFUNDABLE"
)

// ErrConcurrentModification signals a lost optimistic-concurrency race on a
// wallet row or earn batch. The coordinator retries with fresh balances; it
// never reaches callers directly.
var ErrConcurrentModification = errors.New("concurrent modification")

func errInvalidAmount(amount int64) error {
	return errutil.ValidationFailed(
		fmt.Sprintf("amount must be a positive integer, got %d", amount),
		errutil.WithReason(ReasonInvalidAmount),
	)
}

func errSelfDealing(accountID string) error {
	return errutil.ValidationFailed(
		"sender and recipient must differ",
		errutil.WithReason(ReasonSelfDealing),
		errutil.WithDetails(errutil.Detail{Field: "account_id", Message: accountID}),
	)
}

func errInsufficientFunds(accountID string, balance, amount int64) error {
	return errutil.UnprocessableEntity(
		fmt.Sprintf("insufficient funds: balance=%d requested=%d", balance, amount),
		errutil.WithReason(ReasonInsufficientFunds),
		errutil.WithDetails(errutil.Detail{Field: "account_id", Message: accountID}),
	)
}

func errAccountNotFound(accountID string) error {
	return errutil.NotFound(
		"account not found",
		errutil.WithReason(ReasonAccountNotFound),
		errutil.WithDetails(errutil.Detail{Field: "account_id", Message: accountID}),
	)
}

func errAccountInactive(accountID string) error {
	return errutil.Forbidden(
		"account is deactivated",
		errutil.WithReason(ReasonAccountInactive),
		errutil.WithDetails(errutil.Detail{Field: "account_id", Message: accountID}),
	)
}

func errConflict() error {
	return errutil.Conflict(
		"transaction lost the concurrency race, retry with fresh state",
		errutil.WithReason(ReasonConflict),
	)
}

func errInFlight(key string) error {
	return errutil.Conflict(
		"a transaction with this idempotency key is still in flight",
		errutil.WithReason(ReasonConflict),
		errutil.WithDetails(errutil.Detail{Field: "idempotency_key", Message: key}),
	)
}

func errInvalidTrigger(trigger string) error {
	return errutil.ValidationFailed(
		"unknown reward trigger",
		errutil.WithReason(ReasonInvalidTrigger),
		errutil.WithDetails(errutil.Detail{Field: "trigger", Message: trigger}),
	)
}

func errNotFoundTransaction(transactionID string) error {
	return errutil.NotFound(
		"transaction not found",
		errutil.WithDetails(errutil.Detail{Field: "transaction_id", Message: transactionID}),
	)
}

func errNotRefundable(transactionID string) error {
	return errutil.UnprocessableEntity(
		"transaction cannot be refunded",
		errutil.WithReason(ReasonNotRefundable),
		errutil.WithDetails(errutil.Detail{Field: "transaction_id", Message: transactionID}),
	)
}
