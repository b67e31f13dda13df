// Package fhe provides ciphertext handles with an additive operation. The
// Local scheme seals each value into its handle with XChaCha20-Poly1305
// under a key derived from a shared secret, so handles are self-contained:
// any process holding the same secret can add or decrypt them, including
// after a restart. It stands in for a real homomorphic backend behind the
// Scheme interface.
package fhe

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"strings"

	aeadsubtle "github.com/tink-crypto/tink-go/v2/aead/subtle"
	"github.com/zeebo/blake3"
)

var (
	ErrUnknownHandle = errors.New("unknown ciphertext handle")
	ErrInvalidProof  = errors.New("invalid input proof")
	ErrOverflow      = errors.New("ciphertext addition overflow")
)

const handlePrefix = "ct_"

var handleAD = []byte("courtlane fhe handle v1")

// Handle is an opaque reference to an encrypted value.
type Handle string

func (h Handle) IsZero() bool { return strings.TrimSpace(string(h)) == "" }

type Scheme interface {
	Encrypt(ctx context.Context, v uint64) (Handle, error)
	Add(ctx context.Context, a, b Handle) (Handle, error)
	// EncryptFor encrypts a caller-supplied input and returns the proof
	// that binds the handle to owner.
	EncryptFor(ctx context.Context, owner string, v uint64) (Handle, string, error)
	// VerifyInput checks that proof binds h to owner.
	VerifyInput(ctx context.Context, h Handle, proof, owner string) error
}

type Decryptor interface {
	Decrypt(ctx context.Context, h Handle) (uint64, error)
}

type Local struct {
	aead   *aeadsubtle.XChaCha20Poly1305
	proofK []byte
}

// NewLocal derives its sealing and proof keys from secret. An empty secret
// uses a random one, so handles do not survive a restart.
func NewLocal(secret string) (*Local, error) {
	seed := make([]byte, 32)
	if strings.TrimSpace(secret) == "" {
		if _, err := rand.Read(seed); err != nil {
			return nil, err
		}
	} else {
		sum := blake3.Sum256([]byte(secret))
		copy(seed, sum[:])
	}
	a, err := aeadsubtle.NewXChaCha20Poly1305(deriveKey(seed, "courtlane fhe seal"))
	if err != nil {
		return nil, err
	}
	return &Local{
		aead:   a,
		proofK: deriveKey(seed, "courtlane fhe input proof"),
	}, nil
}

func deriveKey(seed []byte, label string) []byte {
	h, err := blake3.NewKeyed(seed)
	if err != nil {
		panic(err)
	}
	_, _ = h.Write([]byte(label))
	return h.Sum(nil)
}

// Encrypt seals v with a fresh nonce, so equal plaintexts get distinct handles.
func (l *Local) Encrypt(_ context.Context, v uint64) (Handle, error) {
	return l.seal(v)
}

func (l *Local) seal(v uint64) (Handle, error) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	ct, err := l.aead.Encrypt(buf[:], handleAD)
	if err != nil {
		return "", err
	}
	return Handle(handlePrefix + hex.EncodeToString(ct)), nil
}

func (l *Local) open(h Handle) (uint64, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(string(h)), handlePrefix)
	if !ok {
		return 0, ErrUnknownHandle
	}
	ct, err := hex.DecodeString(raw)
	if err != nil {
		return 0, ErrUnknownHandle
	}
	pt, err := l.aead.Decrypt(ct, handleAD)
	if err != nil || len(pt) != 8 {
		return 0, ErrUnknownHandle
	}
	return binary.BigEndian.Uint64(pt), nil
}

func (l *Local) Add(_ context.Context, a, b Handle) (Handle, error) {
	av, err := l.open(a)
	if err != nil {
		return "", err
	}
	bv, err := l.open(b)
	if err != nil {
		return "", err
	}
	if av > math.MaxUint64-bv {
		return "", ErrOverflow
	}
	return l.seal(av + bv)
}

func (l *Local) EncryptFor(ctx context.Context, owner string, v uint64) (Handle, string, error) {
	h, err := l.Encrypt(ctx, v)
	if err != nil {
		return "", "", err
	}
	return h, l.proof(h, owner), nil
}

func (l *Local) VerifyInput(_ context.Context, h Handle, proof, owner string) error {
	if _, err := l.open(h); err != nil {
		return err
	}
	want := l.proof(h, owner)
	if subtle.ConstantTimeCompare([]byte(want), []byte(strings.TrimSpace(proof))) != 1 {
		return ErrInvalidProof
	}
	return nil
}

func (l *Local) proof(h Handle, owner string) string {
	m, err := blake3.NewKeyed(l.proofK)
	if err != nil {
		panic(err)
	}
	_, _ = m.Write([]byte(strings.TrimSpace(string(h))))
	_, _ = m.Write([]byte{0})
	_, _ = m.Write([]byte(owner))
	return hex.EncodeToString(m.Sum(nil))
}

func (l *Local) Decrypt(_ context.Context, h Handle) (uint64, error) {
	return l.open(h)
}
