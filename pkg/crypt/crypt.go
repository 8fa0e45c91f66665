// Package crypt is the thin facade every other component uses for
// cryptographic work. It delegates to the active security provider and
// adds nothing except the round-trip guarantees: decrypt inverts
// encrypt and verify accepts sign's output, on the strong and standard
// paths alike.
package crypt

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/prismsec/veritas/pkg/provider"
)

type Facade struct {
	provider provider.Provider
}

func New(p provider.Provider) *Facade {
	return &Facade{provider: p}
}

func (f *Facade) Encrypt(plaintext []byte) (string, error) {
	return f.provider.Encrypt(plaintext)
}

func (f *Facade) Decrypt(ciphertext string) ([]byte, error) {
	return f.provider.Decrypt(ciphertext)
}

func (f *Facade) Sign(data []byte) (string, error) {
	return f.provider.Sign(data)
}

func (f *Facade) Verify(data []byte, signature string) bool {
	return f.provider.Verify(data, signature)
}

// Hash returns the base64 SHA-256 digest of data.
func (f *Facade) Hash(data []byte) string {
	digest := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(digest[:])
}

// Fingerprint exposes the device binding value for envelope stamping.
func (f *Facade) Fingerprint() string {
	return f.provider.Fingerprint()
}
