package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// signaturePrefix is prepended by Twitch to the hex HMAC digest.
const signaturePrefix = "sha256="

// ComputeSignature returns the expected signature header value for a delivery:
// sha256= followed by hex(HMAC-SHA256(secret, messageID || timestamp || body)).
// The body bytes must be exactly as received; re-serialization breaks it.
func ComputeSignature(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether provided matches the locally computed
// signature. It fails closed: an empty secret, any missing header, or any
// mismatch returns false. Comparison is constant time.
func VerifySignature(secret, messageID, timestamp string, body []byte, provided string) bool {
	if secret == "" || messageID == "" || timestamp == "" || provided == "" {
		return false
	}
	ours := []byte(ComputeSignature(secret, messageID, timestamp, body))
	theirs := []byte(provided)
	if subtle.ConstantTimeEq(int32(len(ours)), int32(len(theirs))) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(ours, theirs) == 1
}

// Verify checks the notification's own headers and body against secret.
func (n Notification) Verify(secret string) bool {
	return VerifySignature(secret, n.MessageID, n.Timestamp, n.Body, n.Signature)
}
