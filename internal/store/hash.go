package store

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Supported checksum algorithms. md5 is what the clipboard-sync client writes.
const (
	HashMD5    = "md5"
	HashSHA256 = "sha256"
)

// NewHashFunc returns the constructor for a named algorithm.
func NewHashFunc(name string) (func() hash.Hash, error) {
	switch strings.ToLower(name) {
	case "", HashMD5:
		return md5.New, nil
	case HashSHA256:
		return sha256.New, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", name)
	}
}

// HashReader streams r through h and returns the lowercase hex digest.
func HashReader(newHash func() hash.Hash, r io.Reader) (string, error) {
	h := newHash()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the lowercase hex digest of the file at path.
func HashFile(newHash func() hash.Hash, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(newHash, f)
}

// NormalizeChecksum makes checksums comparable regardless of case or padding.
func NormalizeChecksum(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
