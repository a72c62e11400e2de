package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// HeaderSignature carries the HMAC of the callback payload so receivers can
// verify integrity beyond the shared X-Sync-Secret header.
const HeaderSignature = "X-Telar-Signature"

const signaturePrefix = "sha256="

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret,
// formatted as "sha256=<hex>".
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the payload under secret.
// Comparison is constant-time.
func Verify(secret string, payload []byte, signature string) bool {
	encoded, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok {
		return false
	}
	got, err := hex.DecodeString(encoded)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// VerifyRequest checks the signature header of an incoming callback against
// the already-read request body.
func VerifyRequest(r *http.Request, secret string, body []byte) error {
	signature := r.Header.Get(HeaderSignature)
	if signature == "" {
		return fmt.Errorf("signature required: include the %s header", HeaderSignature)
	}
	if !Verify(secret, body, signature) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}
