package signature

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/accordsai/courtlane/pkg/canonhash"
)

func newTestPair(t *testing.T) (*Signer, *Verifier) {
	t.Helper()
	h, err := GenerateKeyset()
	if err != nil {
		t.Fatalf("GenerateKeyset: %v", err)
	}
	s, err := NewSigner(h)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	v, err := NewVerifier(h)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return s, v
}

func TestVerifyEnvelopeHappyPath(t *testing.T) {
	s, v := newTestPair(t)
	payload := canonhash.DecryptionPayload(7, []uint64{1, 50, 3}, "")
	env, err := s.Sign(payload, time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	got, err := v.VerifyEnvelope(payload, env)
	if err != nil {
		t.Fatalf("VerifyEnvelope: %v", err)
	}
	if !got.IssuedAt.Equal(got.IssuedAt.UTC()) {
		t.Fatalf("expected UTC issuedAt")
	}
}

func TestVerifyEnvelopeRejectsTamperedPayload(t *testing.T) {
	s, v := newTestPair(t)
	env, err := s.Sign(canonhash.DecryptionPayload(7, []uint64{1, 50, 3}, ""), time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	_, err = v.VerifyEnvelope(canonhash.DecryptionPayload(7, []uint64{1, 51, 3}, ""), env)
	if !errors.Is(err, ErrPayloadHashMismatch) {
		t.Fatalf("expected ErrPayloadHashMismatch, got %v", err)
	}
}

func TestVerifyEnvelopeRejectsForeignKey(t *testing.T) {
	s, _ := newTestPair(t)
	_, other := newTestPair(t)
	payload := canonhash.DecryptionPayload(1, nil, "oracle unavailable")
	env, err := s.Sign(payload, time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := other.VerifyEnvelope(payload, env); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyEnvelopeFieldChecks(t *testing.T) {
	s, v := newTestPair(t)
	payload := map[string]any{"a": 1}
	good, err := s.Sign(payload, time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Envelope)
		want   error
	}{
		{"version", func(e *Envelope) { e.Version = "sig-v1" }, ErrUnsupportedAlgorithm},
		{"algorithm", func(e *Envelope) { e.Algorithm = "es256" }, ErrUnsupportedAlgorithm},
		{"issued_at empty", func(e *Envelope) { e.IssuedAt = "" }, ErrInvalidIssuedAt},
		{"issued_at offset", func(e *Envelope) { e.IssuedAt = "2026-01-01T00:00:00+02:00" }, ErrInvalidIssuedAt},
		{"upper hex", func(e *Envelope) { e.PayloadHash = "AB" + e.PayloadHash[2:] }, ErrInvalidEncoding},
		{"short hash", func(e *Envelope) { e.PayloadHash = "abcd" }, ErrInvalidEncoding},
		{"bad base64", func(e *Envelope) { e.Signature = "%%%" }, ErrInvalidEncoding},
	}
	for _, tc := range cases {
		env := good
		tc.mutate(&env)
		if _, err := v.VerifyEnvelope(payload, env); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestKeysetRoundTripThroughFiles(t *testing.T) {
	h, err := GenerateKeyset()
	if err != nil {
		t.Fatalf("GenerateKeyset: %v", err)
	}
	dir := t.TempDir()
	var priv, pub bytes.Buffer
	if err := WritePrivateKeyset(h, &priv); err != nil {
		t.Fatalf("WritePrivateKeyset: %v", err)
	}
	if err := WritePublicKeyset(h, &pub); err != nil {
		t.Fatalf("WritePublicKeyset: %v", err)
	}
	privPath := filepath.Join(dir, "oracle.json")
	pubPath := filepath.Join(dir, "oracle.pub.json")
	if err := os.WriteFile(privPath, priv.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pubPath, pub.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	privH, err := LoadPrivateKeyset(privPath)
	if err != nil {
		t.Fatalf("LoadPrivateKeyset: %v", err)
	}
	pubH, err := LoadPublicKeyset(pubPath)
	if err != nil {
		t.Fatalf("LoadPublicKeyset: %v", err)
	}
	s, err := NewSigner(privH)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	v, err := NewVerifier(pubH)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	payload := canonhash.DecryptionPayload(3, []uint64{2, 9, 4}, "")
	env, err := s.Sign(payload, time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := v.VerifyEnvelope(payload, env); err != nil {
		t.Fatalf("VerifyEnvelope with loaded keys: %v", err)
	}
}
