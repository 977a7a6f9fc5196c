// Package idgen generates prefixed random identifiers for audit records.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix + 24 hex chars from 12 crypto-random bytes,
// e.g. "vio_3f2a...". Prefixes keep record kinds distinguishable in logs
// and cross-store references.
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		// The platform CSPRNG failing is not recoverable at this layer.
		panic("idgen: crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
