package signature

import (
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/signature"
	"github.com/tink-crypto/tink-go/v2/tink"

	"github.com/accordsai/courtlane/pkg/canonhash"
)

type Signer struct {
	s     tink.Signer
	keyID uint32
}

func NewSigner(h *keyset.Handle) (*Signer, error) {
	s, err := signature.NewSigner(h)
	if err != nil {
		return nil, err
	}
	return &Signer{s: s, keyID: h.KeysetInfo().GetPrimaryKeyId()}, nil
}

// Sign hashes payload canonically and signs the 32 hash bytes.
func (s *Signer) Sign(payload any, issuedAt time.Time) (Envelope, error) {
	hashHex, _, err := canonhash.CanonicalSHA256(payload)
	if err != nil {
		return Envelope{}, err
	}
	hashBytes, err := hex.DecodeString(hashHex)
	if err != nil {
		return Envelope{}, ErrInvalidEncoding
	}
	sig, err := s.s.Sign(hashBytes)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Version:     VersionOracleV1,
		Algorithm:   AlgorithmTink,
		Signature:   base64.StdEncoding.EncodeToString(sig),
		PayloadHash: hashHex,
		IssuedAt:    issuedAt.UTC().Format(time.RFC3339Nano),
		KeyID:       s.keyID,
	}, nil
}
