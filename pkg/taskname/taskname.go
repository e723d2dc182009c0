package taskname

const (
	// Ledger tasks
	LedgerExpiryRun = "ledger:expiry:run"
	LedgerNotify    = "ledger:notify"
)
