package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex digests b and returns the lowercase hex encoding. The webhook
// handler keys its replay guard on the digest of the raw delivery body,
// which is the only identity Grateful deliveries carry.
func Sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
