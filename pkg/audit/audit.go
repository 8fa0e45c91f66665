// Package audit keeps the tamper-evident, size-bounded ledger of
// security-relevant events. Entries are append-only and immutable; the
// ledger is a fixed-capacity ring persisted as a JSON list under a
// namespaced key in the storage backend.
package audit

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prismsec/veritas/pkg/storage"
)

// Closed action taxonomy. Consumers must not invent actions outside
// this set.
const (
	ActionAdminLoginAttempt          = "ADMIN_LOGIN_ATTEMPT"
	ActionAdminLoginSuccess          = "ADMIN_LOGIN_SUCCESS"
	ActionAdminLoginFailure          = "ADMIN_LOGIN_FAILURE"
	ActionAdminLoginBlocked          = "ADMIN_LOGIN_BLOCKED"
	ActionAdminLoginError            = "ADMIN_LOGIN_ERROR"
	ActionAdminLogout                = "ADMIN_LOGOUT"
	ActionSessionInvalidSignature    = "ADMIN_SESSION_INVALID_SIGNATURE"
	ActionSessionFingerprintMismatch = "ADMIN_SESSION_FINGERPRINT_MISMATCH"
	ActionDeviceRegistered           = "DEVICE_REGISTERED"
	ActionDeviceApproved             = "DEVICE_APPROVED"
	ActionDeviceRejected             = "DEVICE_REJECTED"
	ActionDeviceComplianceRefresh    = "DEVICE_COMPLIANCE_REFRESH"
	ActionStorageWrite               = "SECURE_STORAGE_WRITE"
	ActionStorageRead                = "SECURE_STORAGE_READ"
	ActionStorageRemove              = "SECURE_STORAGE_REMOVE"
	ActionStorageClear               = "SECURE_STORAGE_CLEAR"
	ActionStorageIntegrityFailure    = "SECURE_STORAGE_INTEGRITY_FAILURE"
	ActionKnoxComplianceRefresh      = "KNOX_COMPLIANCE_REFRESH"
)

// DefaultCapacity bounds the ring; the oldest entries are evicted once
// the ledger grows past it.
const DefaultCapacity = 200

// Entry is one immutable audit record.
type Entry struct {
	ID              string         `json:"id"`
	Action          string         `json:"action"`
	Details         map[string]any `json:"details,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	ProviderEnabled bool           `json:"provider_enabled"`
	SecurityLevel   string         `json:"security_level"`
}

// Log is the process-wide audit ledger. Appends are serialized by a
// single writer lock; reads copy out under a shared lock since entries
// never change after creation.
type Log struct {
	backend  storage.Backend
	key      string
	capacity int
	logger   zerolog.Logger

	stateMu sync.RWMutex
	state   func() (enabled bool, level string)

	mu      sync.RWMutex
	entries []Entry // newest first
}

// New loads any persisted ledger from the backend. A corrupt serialized
// form is treated as an empty log: the failure itself becomes the first
// new entry rather than a fatal error.
func New(backend storage.Backend, namespace string, capacity int, logger zerolog.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		backend:  backend,
		key:      namespace + "/audit/logs",
		capacity: capacity,
		logger:   logger.With().Str("component", "audit").Logger(),
		state:    func() (bool, string) { return false, "LOW" },
	}
	l.load()
	return l
}

// SetState installs the provider posture callback stamped onto every
// entry. Installed after construction because the provider itself
// appends to this log.
func (l *Log) SetState(fn func() (enabled bool, level string)) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if fn != nil {
		l.state = fn
	}
}

// Append records an event. It never fails the caller's primary
// operation: persistence trouble is logged, reported as false, and the
// entry is still retained in memory.
func (l *Log) Append(action string, details map[string]any) bool {
	l.stateMu.RLock()
	enabled, level := l.state()
	l.stateMu.RUnlock()

	entry := Entry{
		ID:              uuid.NewString(),
		Action:          action,
		Details:         details,
		Timestamp:       time.Now().UTC(),
		ProviderEnabled: enabled,
		SecurityLevel:   level,
	}

	l.mu.Lock()
	l.entries = append([]Entry{entry}, l.entries...)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
	snapshot := make([]Entry, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	if err := l.persist(snapshot); err != nil {
		l.logger.Warn().Err(err).Str("action", action).Msg("Audit persistence failed, entry kept in memory only")
		return false
	}
	return true
}

// Read returns up to limit entries, most recent first. limit <= 0 means
// everything retained.
func (l *Log) Read(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	copy(out, l.entries[:n])
	return out
}

// Filter narrows a read.
type Filter struct {
	Action string
	Since  time.Time
	Limit  int
}

// Filtered returns matching entries, most recent first.
func (l *Log) Filtered(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		if f.Action != "" && entry.Action != f.Action {
			continue
		}
		if !f.Since.IsZero() && entry.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, entry)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Len reports the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) load() {
	raw, err := l.backend.Get(l.key)
	if err != nil {
		if err != storage.ErrNotFound {
			l.logger.Warn().Err(err).Msg("Audit ledger unreadable, starting empty")
		}
		return
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		l.logger.Warn().Err(err).Msg("Audit ledger corrupt, starting empty")
		l.Append(ActionStorageIntegrityFailure, map[string]any{
			"key":    l.key,
			"reason": "corrupt audit ledger discarded",
		})
		return
	}
	if len(entries) > l.capacity {
		entries = entries[:l.capacity]
	}
	l.entries = entries
}

func (l *Log) persist(entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return l.backend.Set(l.key, string(data))
}
