package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// VerifyMercadoPagoSignature checks the x-signature header MercadoPago sends
// with webhook notifications. The header carries "ts=<unix>,v1=<hex>"; the
// signed manifest is "id:{resource};request-id:{id};ts:{ts};". Comparison is
// constant time.
func VerifyMercadoPagoSignature(secret, signatureHeader, requestID, resourceID string) bool {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return false
	}

	ts, v1 := parseSignatureHeader(signatureHeader)
	if ts == "" || v1 == "" {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", resourceID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	digest := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(digest), []byte(strings.ToLower(strings.TrimSpace(v1))))
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "ts="):
			ts = part[len("ts="):]
		case strings.HasPrefix(part, "v1="):
			v1 = part[len("v1="):]
		}
	}
	return ts, v1
}
