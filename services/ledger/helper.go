package ledger

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// GenerateTransactionCode returns a human-readable transaction code in the
// form TXN-YYYYMMDD-XXXXXX.
func GenerateTransactionCode() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	datePart := time.Now().Format("20060102")
	randomPart := strings.ToUpper(fmt.Sprintf("%x", buf))

	return fmt.Sprintf("TXN-%s-%s", datePart, randomPart), nil
}
