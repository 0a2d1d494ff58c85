package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HMACVerifier checks the signature the payment gateway hands the client
// after a successful charge: hex(HMAC-SHA256(secret, orderID + "|" + paymentID)).
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Sign(externalOrderID, externalPaymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(externalOrderID + "|" + externalPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time. An empty secret never verifies.
func (v *HMACVerifier) Verify(externalOrderID, externalPaymentID, signature string) bool {
	if len(v.secret) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(v.Sign(externalOrderID, externalPaymentID))
	return hmac.Equal(got, want)
}
