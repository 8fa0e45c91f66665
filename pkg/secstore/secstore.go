// Package secstore persists values as signed, encrypted envelopes bound
// to the device fingerprint. Writes are encrypt-then-sign; reads verify
// the signature before any decryption happens, so a tampered record is
// rejected without touching the cipher.
package secstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prismsec/veritas/pkg/audit"
	"github.com/prismsec/veritas/pkg/crypt"
	"github.com/prismsec/veritas/pkg/storage"
)

// ErrIntegrity is returned when a stored envelope fails signature
// verification. Callers must treat the value as hostile, not stale.
var ErrIntegrity = errors.New("secstore: envelope failed integrity verification")

// ErrNotFound re-exports the backend sentinel for callers that do not
// import storage directly.
var ErrNotFound = storage.ErrNotFound

// Envelope is the persisted record shape. Signature covers the
// encrypted payload string exactly as stored.
type Envelope struct {
	Payload     string    `json:"payload"`
	Encrypted   bool      `json:"encrypted"`
	Signature   string    `json:"signature"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

type Auditor interface {
	AuditAppend(action string, details map[string]any) bool
}

type Store struct {
	backend storage.Backend
	crypto  *crypt.Facade
	auditor Auditor
	logger  zerolog.Logger
}

func New(backend storage.Backend, crypto *crypt.Facade, auditor Auditor, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		crypto:  crypto,
		auditor: auditor,
		logger:  logger.With().Str("component", "secstore").Logger(),
	}
}

// SetItem serializes value to JSON, encrypts it, signs the ciphertext
// and writes the envelope under key.
func (s *Store) SetItem(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %q: %w", key, err)
	}

	ciphertext, err := s.crypto.Encrypt(raw)
	if err != nil {
		return fmt.Errorf("encrypt value for %q: %w", key, err)
	}

	signature, err := s.crypto.Sign([]byte(ciphertext))
	if err != nil {
		return fmt.Errorf("sign value for %q: %w", key, err)
	}

	envelope := Envelope{
		Payload:     ciphertext,
		Encrypted:   true,
		Signature:   signature,
		Fingerprint: s.crypto.Fingerprint(),
		CreatedAt:   time.Now().UTC(),
	}
	blob, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope for %q: %w", key, err)
	}

	if err := s.backend.Set(key, string(blob)); err != nil {
		return fmt.Errorf("persist %q: %w", key, err)
	}

	s.auditor.AuditAppend(audit.ActionStorageWrite, map[string]any{"key": key})
	return nil
}

// GetItem loads the envelope under key, verifies its signature and
// decrypts the payload into out. A verification failure is audited and
// surfaces as ErrIntegrity.
func (s *Store) GetItem(key string, out any) error {
	blob, err := s.backend.Get(key)
	if err != nil {
		return err
	}

	var envelope Envelope
	if err := json.Unmarshal([]byte(blob), &envelope); err != nil {
		s.integrityFailure(key, "malformed envelope")
		return ErrIntegrity
	}

	if !s.crypto.Verify([]byte(envelope.Payload), envelope.Signature) {
		s.integrityFailure(key, "signature mismatch")
		return ErrIntegrity
	}

	raw := []byte(envelope.Payload)
	if envelope.Encrypted {
		raw, err = s.crypto.Decrypt(envelope.Payload)
		if err != nil {
			s.integrityFailure(key, "decrypt failure")
			return ErrIntegrity
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal value for %q: %w", key, err)
	}

	s.auditor.AuditAppend(audit.ActionStorageRead, map[string]any{"key": key})
	return nil
}

// GetEnvelope returns the raw stored envelope without verification.
// Intended for inspection tooling only.
func (s *Store) GetEnvelope(key string) (Envelope, error) {
	blob, err := s.backend.Get(key)
	if err != nil {
		return Envelope{}, err
	}
	var envelope Envelope
	if err := json.Unmarshal([]byte(blob), &envelope); err != nil {
		return Envelope{}, ErrIntegrity
	}
	return envelope, nil
}

func (s *Store) RemoveItem(key string) error {
	if err := s.backend.Remove(key); err != nil {
		return err
	}
	s.auditor.AuditAppend(audit.ActionStorageRemove, map[string]any{"key": key})
	return nil
}

// Clear removes every key with the given prefix. An empty prefix clears
// the whole namespace.
func (s *Store) Clear(prefix string) (int, error) {
	keys, err := s.backend.Keys()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := s.backend.Remove(key); err != nil {
			return removed, fmt.Errorf("remove %q: %w", key, err)
		}
		removed++
	}

	s.auditor.AuditAppend(audit.ActionStorageClear, map[string]any{
		"prefix":  prefix,
		"removed": removed,
	})
	return removed, nil
}

func (s *Store) integrityFailure(key, reason string) {
	s.logger.Warn().Str("key", key).Str("reason", reason).Msg("Stored envelope failed verification")
	s.auditor.AuditAppend(audit.ActionStorageIntegrityFailure, map[string]any{
		"key":    key,
		"reason": reason,
	})
}
