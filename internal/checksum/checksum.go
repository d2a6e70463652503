// Package checksum holds the integrity proofs exchanged with payment providers.
// Both sides compute the same string, so field order is the whole contract.
package checksum

import (
	"crypto/hmac"
	"crypto/subtle"
	"strings"

	"tourney-registry/internal/util"
)

const (
	PayPath = "/pg/v1/pay"

	saltSeparator = "###"
)

// StatusPath is the API path the status-check checksum is computed over.
func StatusPath(merchantID, transactionID string) string {
	return "/pg/v1/status/" + merchantID + "/" + transactionID
}

// ComputeSignature is the hosted-checkout callback signature:
// hex(HMAC-SHA256(secret, orderID + "|" + paymentID)).
func ComputeSignature(orderID, paymentID, secret string) string {
	return util.HMACSHA256Hex(secret, orderID+"|"+paymentID)
}

// VerifySignature reports whether signature is exactly the lowercase hex HMAC.
// Any other spelling of the same bytes, uppercase included, does not match.
func VerifySignature(orderID, paymentID, secret, signature string) bool {
	got := strings.TrimSpace(signature)
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(got), []byte(ComputeSignature(orderID, paymentID, secret)))
}

// XVerify builds the X-VERIFY header: hex(SHA256(payload + apiPath + saltKey)) + "###" + saltIndex.
// Status checks pass an empty payload and the status path.
func XVerify(base64Payload, apiPath, saltKey, saltIndex string) string {
	return util.SHA256Hex(base64Payload+apiPath+saltKey) + saltSeparator + saltIndex
}

// VerifyXVerify compares header against the expected X-VERIFY value in constant time.
func VerifyXVerify(base64Payload, apiPath, saltKey, saltIndex, header string) bool {
	want := XVerify(base64Payload, apiPath, saltKey, saltIndex)
	return subtle.ConstantTimeCompare([]byte(want), []byte(header)) == 1
}
