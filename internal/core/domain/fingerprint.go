package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeQuery case-folds and collapses whitespace so that trivially
// reformatted queries share one fingerprint.
func NormalizeQuery(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), unicode.IsSpace)
	return strings.Join(fields, " ")
}

// QueryFingerprint is the exact-match cache key for a query: a deterministic
// hash of the normalized text.
func QueryFingerprint(text string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(text)))
	return hex.EncodeToString(sum[:])
}
