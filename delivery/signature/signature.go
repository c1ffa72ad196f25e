package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Prefix identifies the hash algorithm in the signature header value.
const Prefix = "sha256="

/* Sign computes the payload signature sent in the
 * X-Webhook-Signature-256 header: "sha256=" followed by the hex-encoded
 * HMAC-SHA256 of the payload keyed with the endpoint secret. An empty
 * secret means the endpoint opted out of signing and yields an empty
 * signature.
 */
func Sign(payload []byte, secret string) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature for payload under
// secret. The comparison is constant-time so receivers can use it
// directly against attacker-controlled header values.
func Verify(payload []byte, secret, sig string) bool {
	expected := Sign(payload, secret)
	if expected == "" || sig == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(sig))
}
