// Package keystore manages the software key material used by the
// standard security provider: one symmetric AEAD key and one ECDSA
// signing pair, lazily generated on first use and persisted with
// restricted permissions. Keys never leave this package.
package keystore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	aeadAlias    = "veritas_aead"
	signingAlias = "veritas_ecdsa"

	// Encrypted payloads are framed as [nonceLen(4, big-endian)][nonce][ciphertext+tag]
	// and then base64 encoded.
	nonceLenBytes = 4
)

var ErrMalformedCiphertext = errors.New("keystore: malformed ciphertext")

// Store holds the on-disk key material. First use of either key is a
// check-then-create section guarded by a per-alias lock, so concurrent
// callers never race to generate duplicate keys under the same alias.
type Store struct {
	dir string

	mu      sync.Mutex
	aliasMu map[string]*sync.Mutex

	aeadKey    []byte
	signingKey *ecdsa.PrivateKey
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create dir: %w", err)
	}
	return &Store{dir: dir, aliasMu: make(map[string]*sync.Mutex)}, nil
}

// Encrypt seals plaintext with the symmetric key and returns the framed,
// base64-encoded ciphertext.
func (s *Store) Encrypt(plaintext []byte) (string, error) {
	key, err := s.ensureAEADKey()
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("keystore: nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)

	framed := make([]byte, nonceLenBytes+len(nonce)+len(sealed))
	binary.BigEndian.PutUint32(framed, uint32(len(nonce)))
	copy(framed[nonceLenBytes:], nonce)
	copy(framed[nonceLenBytes+len(nonce):], sealed)
	return base64.StdEncoding.EncodeToString(framed), nil
}

// Decrypt reverses Encrypt.
func (s *Store) Decrypt(encoded string) ([]byte, error) {
	key, err := s.ensureAEADKey()
	if err != nil {
		return nil, err
	}
	framed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformedCiphertext
	}
	if len(framed) < nonceLenBytes {
		return nil, ErrMalformedCiphertext
	}
	nonceLen := int(binary.BigEndian.Uint32(framed))
	if nonceLen <= 0 || len(framed) < nonceLenBytes+nonceLen {
		return nil, ErrMalformedCiphertext
	}
	nonce := framed[nonceLenBytes : nonceLenBytes+nonceLen]
	sealed := framed[nonceLenBytes+nonceLen:]

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypt: %w", err)
	}
	return plaintext, nil
}

// Sign produces a base64 ECDSA signature over SHA-256(data).
func (s *Store) Sign(data []byte) (string, error) {
	key, err := s.ensureSigningKey()
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", fmt.Errorf("keystore: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether signature matches data. Any decoding problem
// counts as a failed verification, never an error.
func (s *Store) Verify(data []byte, signature string) bool {
	key, err := s.ensureSigningKey()
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(&key.PublicKey, digest[:], sig)
}

func (s *Store) ensureAEADKey() ([]byte, error) {
	lock := s.lockFor(aeadAlias)
	lock.Lock()
	defer lock.Unlock()

	if s.aeadKey != nil {
		return s.aeadKey, nil
	}

	raw, err := s.loadAlias(aeadAlias)
	if err == nil {
		if len(raw) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("keystore: alias %s holds a %d-byte key", aeadAlias, len(raw))
		}
		s.aeadKey = raw
		return s.aeadKey, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("keystore: generate key: %w", err)
	}
	if err := s.saveAlias(aeadAlias, "chacha20poly1305", key); err != nil {
		return nil, err
	}
	s.aeadKey = key
	return s.aeadKey, nil
}

func (s *Store) ensureSigningKey() (*ecdsa.PrivateKey, error) {
	lock := s.lockFor(signingAlias)
	lock.Lock()
	defer lock.Unlock()

	if s.signingKey != nil {
		return s.signingKey, nil
	}

	raw, err := s.loadAlias(signingAlias)
	if err == nil {
		key, parseErr := x509.ParseECPrivateKey(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("keystore: parse signing key: %w", parseErr)
		}
		s.signingKey = key
		return s.signingKey, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate signing key: %w", err)
	}
	encoded, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := s.saveAlias(signingAlias, "ecdsa-p256", encoded); err != nil {
		return nil, err
	}
	s.signingKey = key
	return s.signingKey, nil
}

func (s *Store) lockFor(alias string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.aliasMu[alias]
	if !ok {
		lock = &sync.Mutex{}
		s.aliasMu[alias] = lock
	}
	return lock
}

type keyFile struct {
	Alias     string `json:"alias"`
	Algorithm string `json:"algorithm"`
	Key       string `json:"key"`
}

func (s *Store) saveAlias(alias, algorithm string, key []byte) error {
	data, err := json.MarshalIndent(keyFile{
		Alias:     alias,
		Algorithm: algorithm,
		Key:       base64.StdEncoding.EncodeToString(key),
	}, "", "  ")
	if err != nil {
		return err
	}
	// Restricted permissions; this file is the trust root for the standard path.
	return os.WriteFile(s.aliasPath(alias), data, 0o600)
}

func (s *Store) loadAlias(alias string) ([]byte, error) {
	data, err := os.ReadFile(s.aliasPath(alias))
	if err != nil {
		return nil, err
	}
	var stored keyFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("keystore: parse %s: %w", alias, err)
	}
	raw, err := base64.StdEncoding.DecodeString(stored.Key)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode %s: %w", alias, err)
	}
	return raw, nil
}

func (s *Store) aliasPath(alias string) string {
	return filepath.Join(s.dir, alias+".key")
}
