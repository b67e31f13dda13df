package webhooks

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	SignatureHeader  = "X-Signature"
	DeliveryIDHeader = "X-Delivery-Id"
	EventTypeHeader  = "X-Event-Type"
	callbackScheme   = "oracle-hmac-sha256/v1"
	maxClockSkew     = 5 * time.Minute
	timestampHeader  = "X-Signature-Timestamp"
)

type callbackVerifier struct {
	provider string
}

// NewCallbackVerifier verifies oracle deliveries signed with SignBody. When the
// sender includes X-Signature-Timestamp it must be within five minutes of receipt.
func NewCallbackVerifier(provider string) Verifier {
	return &callbackVerifier{provider: strings.TrimSpace(provider)}
}

func (v *callbackVerifier) Provider() string {
	return v.provider
}

func (v *callbackVerifier) Verify(headers http.Header, rawBody []byte, receivedAt time.Time, secret string) (VerificationResult, error) {
	if strings.TrimSpace(secret) == "" {
		return VerificationResult{}, fmt.Errorf("callback verifier secret is empty")
	}

	res := VerificationResult{
		Valid:  false,
		Scheme: callbackScheme,
		Details: map[string]any{
			"signature_header_present": false,
			"timestamp_within_skew":    true,
			"provider":                 v.provider,
			"used_header":              SignatureHeader,
		},
		DeliveryID: strings.TrimSpace(headers.Get(DeliveryIDHeader)),
		EventType:  strings.TrimSpace(headers.Get(EventTypeHeader)),
	}
	if res.EventType == "" {
		res.EventType = "unknown"
	}

	if raw := strings.TrimSpace(headers.Get(timestampHeader)); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil || absDuration(receivedAt.Sub(ts)) > maxClockSkew {
			res.Details["timestamp_within_skew"] = false
			return res, nil
		}
	}

	sig := strings.TrimSpace(headers.Get(SignatureHeader))
	if sig == "" {
		return res, nil
	}
	res.Details["signature_header_present"] = true
	res.Valid = VerifySignature(secret, rawBody, sig)
	return res, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
