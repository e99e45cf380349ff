package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/solven/escrow/internal/apperr"
)

// Sign returns the hex HMAC-SHA512 of payload under secret, the scheme both
// supported gateways use for webhook signatures.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature fails closed: an empty secret, an empty signature or a
// mismatch are all rejected.
func VerifySignature(secret, payload []byte, signature string) error {
	if len(secret) == 0 || signature == "" {
		return fmt.Errorf("missing webhook secret or signature: %w", apperr.ErrSignatureInvalid)
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", apperr.ErrSignatureInvalid)
	}
	mac := hmac.New(sha512.New, secret)
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperr.ErrSignatureInvalid
	}
	return nil
}
