package clip

import "io"

// Encryptor protects history snapshots before they leave the host.
// Encrypting needs only the public key; decrypting needs the passphrase that
// protects the private key.
type Encryptor interface {
	// Setup generates a key pair, writes the public key in plaintext and the
	// private key encrypted with passphrase. Called by `clipvault keys init`.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock opens the private key with passphrase.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for one snapshot pull.
type DecryptionContext interface {
	// Decrypt reads ciphertext from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
