package testutil

import (
	"clipvault/internal/clip"
	"clipvault/internal/encryption"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() clip.Encryptor {
	return encryption.NewTestEncryptor()
}
