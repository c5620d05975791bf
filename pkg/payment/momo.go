package payment

import (
	"crypto/sha256"
	"strings"
)

// MoMo signs a fixed, documented list of fields joined as key=value with '&'.
// The order below is the order the gateway signs in; any deviation rejects
// every callback.
var (
	MoMoCreateFields = []string{
		"accessKey", "amount", "extraData", "ipnUrl", "orderId",
		"orderInfo", "partnerCode", "redirectUrl", "requestId", "requestType",
	}
	MoMoResultFields = []string{
		"accessKey", "amount", "extraData", "message", "orderId", "orderInfo",
		"orderType", "partnerCode", "payType", "requestId", "responseTime",
		"resultCode", "transId",
	}
)

// MoMoRawSignature builds the string MoMo signs from the named fields.
// Missing fields contribute an empty value.
func MoMoRawSignature(order []string, values map[string]string) string {
	var b strings.Builder
	for i, key := range order {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(values[key])
	}
	return b.String()
}

// SignMoMo returns the HMAC-SHA256 hex signature of the named fields.
func SignMoMo(order []string, values map[string]string, secret string) string {
	return hmacHex(sha256.New, secret, []byte(MoMoRawSignature(order, values)))
}

// MoMoVerifier verifies MoMo return and IPN payloads. The access key is part
// of the signed string but never sent back by the gateway, so it is held here.
type MoMoVerifier struct {
	AccessKey string
}

// Verify checks Fields["signature"] against the result field list.
func (v MoMoVerifier) Verify(p Payload, secret string) bool {
	if secret == "" {
		return false
	}
	values := make(map[string]string, len(p.Fields)+1)
	for k, val := range p.Fields {
		values[k] = val
	}
	values["accessKey"] = v.AccessKey
	expected := SignMoMo(MoMoResultFields, values, secret)
	return equalHex(expected, p.Fields["signature"])
}
