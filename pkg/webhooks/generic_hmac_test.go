package webhooks

import (
	"net/http"
	"testing"
	"time"
)

func TestCallbackVerifierValidSignature(t *testing.T) {
	body := []byte(`{"request_id":1}`)
	h := http.Header{}
	h.Set(SignatureHeader, SignBody("secret", body))
	h.Set(DeliveryIDHeader, "dlv_1")
	h.Set(EventTypeHeader, "decryption.completed")

	res, err := NewCallbackVerifier("oracle").Verify(h, body, time.Now().UTC(), "secret")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid signature, got %+v", res)
	}
	if res.DeliveryID != "dlv_1" || res.EventType != "decryption.completed" {
		t.Fatalf("unexpected metadata %+v", res)
	}
}

func TestCallbackVerifierMissingOrWrongSignature(t *testing.T) {
	body := []byte(`{"request_id":1}`)
	v := NewCallbackVerifier("oracle")

	res, err := v.Verify(http.Header{}, body, time.Now().UTC(), "secret")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Valid || res.Details["signature_header_present"] != false {
		t.Fatalf("expected invalid without header, got %+v", res)
	}

	h := http.Header{}
	h.Set(SignatureHeader, SignBody("other", body))
	res, _ = v.Verify(h, body, time.Now().UTC(), "secret")
	if res.Valid {
		t.Fatalf("expected invalid with wrong secret")
	}
	if res.EventType != "unknown" {
		t.Fatalf("expected unknown event type, got %q", res.EventType)
	}
}

func TestCallbackVerifierRejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{}`)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set(SignatureHeader, SignBody("secret", body))
	h.Set("X-Signature-Timestamp", now.Add(-10*time.Minute).Format(time.RFC3339))

	res, _ := NewCallbackVerifier("oracle").Verify(h, body, now, "secret")
	if res.Valid {
		t.Fatalf("expected stale delivery to be rejected")
	}
	if res.Details["timestamp_within_skew"] != false {
		t.Fatalf("expected skew flag, got %+v", res.Details)
	}
}

func TestCallbackVerifierEmptySecret(t *testing.T) {
	if _, err := NewCallbackVerifier("oracle").Verify(http.Header{}, nil, time.Now(), " "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestVerifySignatureAcceptsBareHex(t *testing.T) {
	body := []byte("payload")
	sig := SignBody("k", body)
	if !VerifySignature("k", body, sig[len("sha256="):]) {
		t.Fatalf("expected bare hex signature to verify")
	}
	if VerifySignature("", body, sig) {
		t.Fatalf("expected empty secret to fail")
	}
	if PayloadHash(body)[:7] != "sha256:" {
		t.Fatalf("unexpected payload hash prefix")
	}
}
