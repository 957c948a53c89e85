package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashAccountID derives the privacy-preserving account identifier used in
// all persisted records and log fields. First 16 hex chars of SHA-256 is
// enough to disambiguate accounts without exposing the raw identifier.
func HashAccountID(accountID string) string {
	sum := sha256.Sum256([]byte(accountID))
	return hex.EncodeToString(sum[:])[:16]
}
