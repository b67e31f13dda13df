package signature

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/signature"
	"github.com/tink-crypto/tink-go/v2/tink"

	"github.com/accordsai/courtlane/pkg/canonhash"
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidIssuedAt      = errors.New("invalid issued_at")
	ErrPayloadHashMismatch  = errors.New("payload hash mismatch")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInvalidEncoding      = errors.New("invalid encoding")
)

type VerifyResult struct {
	IssuedAt time.Time
}

type Verifier struct {
	v tink.Verifier
}

// NewVerifier accepts either a private or a public keyset handle.
func NewVerifier(h *keyset.Handle) (*Verifier, error) {
	pub, err := h.Public()
	if err != nil {
		// already public
		pub = h
	}
	v, err := signature.NewVerifier(pub)
	if err != nil {
		return nil, err
	}
	return &Verifier{v: v}, nil
}

func (v *Verifier) VerifyEnvelope(payload any, env Envelope) (VerifyResult, error) {
	if strings.TrimSpace(env.Version) != VersionOracleV1 {
		return VerifyResult{}, ErrUnsupportedAlgorithm
	}
	if strings.TrimSpace(env.Algorithm) != AlgorithmTink {
		return VerifyResult{}, ErrUnsupportedAlgorithm
	}
	if strings.TrimSpace(env.IssuedAt) == "" {
		return VerifyResult{}, ErrInvalidIssuedAt
	}
	issuedAt, err := time.Parse(time.RFC3339Nano, env.IssuedAt)
	if err != nil {
		return VerifyResult{}, ErrInvalidIssuedAt
	}
	if !strings.HasSuffix(env.IssuedAt, "Z") {
		return VerifyResult{}, ErrInvalidIssuedAt
	}

	expectedHashHex, _, err := canonhash.CanonicalSHA256(payload)
	if err != nil {
		return VerifyResult{}, err
	}
	expectedHashBytes, err := hex.DecodeString(expectedHashHex)
	if err != nil {
		return VerifyResult{}, ErrInvalidEncoding
	}
	payloadHashBytes, err := decodeLowerHex32(strings.TrimSpace(env.PayloadHash))
	if err != nil {
		return VerifyResult{}, err
	}
	if subtle.ConstantTimeCompare(expectedHashBytes, payloadHashBytes) != 1 {
		return VerifyResult{}, ErrPayloadHashMismatch
	}

	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(env.Signature))
	if err != nil || len(sig) == 0 {
		return VerifyResult{}, ErrInvalidEncoding
	}
	if err := v.v.Verify(sig, payloadHashBytes); err != nil {
		return VerifyResult{}, ErrInvalidSignature
	}
	return VerifyResult{IssuedAt: issuedAt.UTC()}, nil
}

func decodeLowerHex32(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrInvalidEncoding
	}
	if s != strings.ToLower(s) {
		return nil, ErrInvalidEncoding
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: payload_hash length", ErrInvalidEncoding)
	}
	return b, nil
}
