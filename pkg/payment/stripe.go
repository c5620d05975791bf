package payment

import (
	"crypto/sha256"
	"strconv"
	"strings"
	"time"
)

// StripeSignatureHeader carries the webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// DefaultStripeTolerance bounds how old a signed webhook may be.
const DefaultStripeTolerance = 5 * time.Minute

// StripeVerifier verifies the t=...,v1=... signature header over
// "{t}.{body}" with HMAC-SHA256.
type StripeVerifier struct {
	Tolerance time.Duration
	Now       func() time.Time
}

// Verify accepts the payload when any v1 signature matches and the timestamp
// is within tolerance.
func (v StripeVerifier) Verify(p Payload, secret string) bool {
	if secret == "" {
		return false
	}
	ts, sigs, ok := ParseStripeHeader(p.Signature)
	if !ok {
		return false
	}

	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultStripeTolerance
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	age := now().Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return false
	}

	expected := stripeDigest(ts, p.Body, secret)
	matched := false
	for _, sig := range sigs {
		if equalHex(expected, sig) {
			matched = true
		}
	}
	return matched
}

// ParseStripeHeader extracts the timestamp and v1 signatures from a
// Stripe-Signature header value.
func ParseStripeHeader(header string) (int64, []string, bool) {
	var (
		ts    int64
		hasTS bool
		sigs  []string
	)
	for _, item := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(item), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, false
			}
			ts, hasTS = parsed, true
		case "v1":
			sigs = append(sigs, value)
		}
	}
	if !hasTS || len(sigs) == 0 {
		return 0, nil, false
	}
	return ts, sigs, true
}

// SignStripe produces a Stripe-Signature header value for body at time ts.
func SignStripe(body []byte, secret string, ts time.Time) string {
	unix := ts.Unix()
	return "t=" + strconv.FormatInt(unix, 10) + ",v1=" + stripeDigest(unix, body, secret)
}

func stripeDigest(ts int64, body []byte, secret string) string {
	signed := make([]byte, 0, len(body)+16)
	signed = strconv.AppendInt(signed, ts, 10)
	signed = append(signed, '.')
	signed = append(signed, body...)
	return hmacHex(sha256.New, secret, signed)
}
