package encryption

import (
	"bytes"
	"fmt"
	"io"

	"clipvault/internal/clip"
)

// plainMarker prefixes output of TestEncryptor so tests can tell a sealed
// snapshot from a raw database file.
var plainMarker = []byte("CVTEST\x00\x01")

// TestEncryptor is a reversible, key-free stand-in for tests and the "test"
// encryption type. It provides no confidentiality.
type TestEncryptor struct {
	setupCalled bool
}

var _ clip.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(string) error {
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(plainMarker); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(string) (clip.DecryptionContext, error) {
	return testDecryptor{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

type testDecryptor struct{}

func (testDecryptor) Decrypt(r io.Reader, w io.Writer) error {
	marker := make([]byte, len(plainMarker))
	if _, err := io.ReadFull(r, marker); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(marker, plainMarker) {
		return fmt.Errorf("input was not produced by TestEncryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
