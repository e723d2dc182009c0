package rediskey

import "fmt"

// Velocity-window keys (global convention across services)
const (
	FraudPrefix          = "fraud"
	FraudCountPrefix     = "fraud:count"
	FraudAmountPrefix    = "fraud:amount"
	FraudRecipientPrefix = "fraud:recipient"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildTransferCountKey returns "fraud:count:{accountID}"
func BuildTransferCountKey(accountID string) string {
	return NamespaceKey(FraudCountPrefix, accountID)
}

// BuildTransferAmountKey returns "fraud:amount:{accountID}"
func BuildTransferAmountKey(accountID string) string {
	return NamespaceKey(FraudAmountPrefix, accountID)
}

// BuildRecipientKey returns "fraud:recipient:{fromID}:{toID}"
func BuildRecipientKey(fromID, toID string) string {
	return NamespaceKey(FraudRecipientPrefix, fmt.Sprintf("%s:%s", fromID, toID))
}
