package payment

import (
	"crypto/hmac"
	"encoding/hex"
	"hash"
	"strings"
)

// Payload is an inbound gateway confirmation as received from the network.
// Query-string and form callbacks populate Fields; header-signed webhooks
// populate Body and Signature.
type Payload struct {
	Fields    map[string]string
	Body      []byte
	Signature string
}

// Verifier checks that a payload was produced by the holder of secret.
// Implementations are pure and compare digests in constant time.
type Verifier interface {
	Verify(p Payload, secret string) bool
}

// VerifierFunc adapts a plain function to Verifier.
type VerifierFunc func(p Payload, secret string) bool

func (f VerifierFunc) Verify(p Payload, secret string) bool {
	return f(p, secret)
}

// hmacHex returns the lowercase hex HMAC of data under secret.
func hmacHex(newHash func() hash.Hash, secret string, data []byte) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// equalHex compares a computed hex digest with a received one. The received
// digest may be upper or lower case.
func equalHex(expected, received string) bool {
	received = strings.TrimSpace(received)
	if received == "" {
		return false
	}
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(received)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}
