package signature

import (
	"fmt"
	"io"
	"os"

	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/signature"
)

func GenerateKeyset() (*keyset.Handle, error) {
	return keyset.NewHandle(signature.ED25519KeyTemplate())
}

// LoadPrivateKeyset reads a cleartext JSON keyset written by WritePrivateKeyset.
func LoadPrivateKeyset(path string) (*keyset.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(f))
	if err != nil {
		return nil, fmt.Errorf("read private keyset %s: %w", path, err)
	}
	return h, nil
}

func LoadPublicKeyset(path string) (*keyset.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := keyset.ReadWithNoSecrets(keyset.NewJSONReader(f))
	if err != nil {
		return nil, fmt.Errorf("read public keyset %s: %w", path, err)
	}
	return h, nil
}

func WritePrivateKeyset(h *keyset.Handle, w io.Writer) error {
	return insecurecleartextkeyset.Write(h, keyset.NewJSONWriter(w))
}

func WritePublicKeyset(h *keyset.Handle, w io.Writer) error {
	pub, err := h.Public()
	if err != nil {
		return err
	}
	return pub.WriteWithNoSecrets(keyset.NewJSONWriter(w))
}
