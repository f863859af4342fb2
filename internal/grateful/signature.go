package grateful

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the processor's webhook signature.
const SignatureHeader = "X-Grateful-Signature"

// VerifySignature checks that a webhook body originated from the processor.
// With neither a signature nor a secret, verification is skipped: that is the
// documented unsigned mode for stores that have not configured signing yet.
// A signature without a secret, or a secret without a signature, fails
// closed; a claim that cannot be verified is not accepted.
func VerifySignature(body []byte, provided, secret string) bool {
	provided = strings.TrimSpace(provided)
	secret = strings.TrimSpace(secret)
	if provided == "" && secret == "" {
		return true
	}
	if provided == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}
