package payment

import (
	"crypto/sha512"
	"net/url"
	"sort"
	"strings"
)

const (
	VNPaySecureHashField     = "vnp_SecureHash"
	VNPaySecureHashTypeField = "vnp_SecureHashType"
)

// VNPayCanonical builds the string VNPay signs: fields sorted by raw key,
// query-escaped (space as '+'), joined with '&'. The hash fields and empty
// values are left out.
func VNPayCanonical(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if k == VNPaySecureHashField || k == VNPaySecureHashTypeField || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(fields[k]))
	}
	return b.String()
}

// SignVNPay returns the HMAC-SHA512 hex signature of fields.
func SignVNPay(fields map[string]string, secret string) string {
	return hmacHex(sha512.New, secret, []byte(VNPayCanonical(fields)))
}

// VNPayVerifier verifies VNPay return and IPN query strings.
type VNPayVerifier struct{}

// Verify checks Fields["vnp_SecureHash"] against the canonical string.
func (VNPayVerifier) Verify(p Payload, secret string) bool {
	if secret == "" {
		return false
	}
	expected := SignVNPay(p.Fields, secret)
	return equalHex(expected, p.Fields[VNPaySecureHashField])
}
