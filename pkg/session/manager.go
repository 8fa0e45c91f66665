// Package session owns the admin authentication state machine. A
// session is a signed, encrypted envelope bound to the device
// fingerprint; resuming on a different device invalidates it.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prismsec/veritas/pkg/audit"
	"github.com/prismsec/veritas/pkg/compliance"
	"github.com/prismsec/veritas/pkg/crypt"
	"github.com/prismsec/veritas/pkg/secstore"
)

// StorageKey is where the persisted session envelope lives.
const StorageKey = "admin/session"

type State string

const (
	StateLoggedOut      State = "LOGGED_OUT"
	StateAuthenticating State = "AUTHENTICATING"
	StateLoggedIn       State = "LOGGED_IN"
)

// Reason classifies a rejected login or an invalidated resume. Rejection
// is an expected business outcome, never a free-text error.
type Reason string

const (
	ReasonKnoxDisabled        Reason = "KNOX_DISABLED"
	ReasonComplianceErrors    Reason = "COMPLIANCE_ERRORS"
	ReasonInvalidCredentials  Reason = "INVALID_CREDENTIALS"
	ReasonFingerprintMismatch Reason = "FINGERPRINT_MISMATCH"
	ReasonRateLimited         Reason = "RATE_LIMITED"
	ReasonInvalidSignature    Reason = "INVALID_SIGNATURE"
)

// RejectedError carries the typed reason for a refused login.
type RejectedError struct {
	Reason Reason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("session: login rejected: %s", e.Reason)
}

// RejectReason extracts the typed reason from err, or "" when err is
// not a rejection.
func RejectReason(err error) Reason {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason
	}
	return ""
}

// Session is the decrypted payload persisted under StorageKey. Never
// exposed outside this package except through Summary.
type Session struct {
	UserData          map[string]string   `json:"user_data"`
	Compliance        compliance.Snapshot `json:"compliance"`
	DeviceFingerprint string              `json:"device_fingerprint"`
	Timestamp         time.Time           `json:"timestamp"`
	Token             string              `json:"token"`
}

// Summary is the non-secret view handed to callers.
type Summary struct {
	Authenticated   bool      `json:"authenticated"`
	State           State     `json:"state"`
	Username        string    `json:"username,omitempty"`
	Token           string    `json:"token,omitempty"`
	ComplianceScore int       `json:"compliance_score,omitempty"`
	LoginAt         time.Time `json:"login_at,omitempty"`
	Reason          Reason    `json:"reason,omitempty"`
}

type Auditor interface {
	AuditAppend(action string, details map[string]any) bool
}

// Config carries the tunable login policy.
type Config struct {
	Verifier    CredentialVerifier
	LoginLimit  int           // attempts per username per window; <=0 disables
	LoginWindow time.Duration
}

type Manager struct {
	engine   *compliance.Engine
	crypto   *crypt.Facade
	store    *secstore.Store
	auditor  Auditor
	verifier CredentialVerifier
	limiter  *RateLimiter
	limit    int
	window   time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	state   State
	current *Session
}

func NewManager(engine *compliance.Engine, crypto *crypt.Facade, store *secstore.Store, auditor Auditor, cfg Config, logger zerolog.Logger) *Manager {
	window := cfg.LoginWindow
	if window <= 0 {
		window = time.Minute
	}
	return &Manager{
		engine:   engine,
		crypto:   crypto,
		store:    store,
		auditor:  auditor,
		verifier: cfg.Verifier,
		limiter:  NewRateLimiter(),
		limit:    cfg.LoginLimit,
		window:   window,
		logger:   logger.With().Str("component", "session").Logger(),
		state:    StateLoggedOut,
	}
}

// Login runs the gate chain in fixed order: rate limit, provider
// availability, compliance errors, credentials, fingerprint. Every
// rejection emits exactly one classifying audit entry; the attempt
// itself is recorded up front.
func (m *Manager) Login(username, password string) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateAuthenticating
	m.auditor.AuditAppend(audit.ActionAdminLoginAttempt, map[string]any{"username": username})

	summary, err := m.login(username, password)
	if err != nil {
		m.state = StateLoggedOut
		m.current = nil
		return summary, err
	}
	m.state = StateLoggedIn
	return summary, nil
}

func (m *Manager) login(username, password string) (Summary, error) {
	if !m.limiter.Allow(username, m.limit, m.window) {
		return m.blocked(ReasonRateLimited, nil)
	}

	snapshot := m.engine.Refresh(true)

	if !snapshot.Posture.ProviderEnabled {
		return m.blocked(ReasonKnoxDisabled, nil)
	}
	if snapshot.Blocking() {
		return m.blocked(ReasonComplianceErrors, map[string]any{"errors": snapshot.Errors})
	}

	if m.verifier == nil || !m.verifier.Verify(username, password) {
		m.auditor.AuditAppend(audit.ActionAdminLoginFailure, map[string]any{
			"username": username,
			"reason":   string(ReasonInvalidCredentials),
		})
		return Summary{State: StateLoggedOut, Reason: ReasonInvalidCredentials}, &RejectedError{Reason: ReasonInvalidCredentials}
	}

	fingerprint := m.crypto.Fingerprint()
	if fingerprint != snapshot.Posture.Fingerprint {
		return m.blocked(ReasonFingerprintMismatch, nil)
	}

	token, err := newToken()
	if err != nil {
		return m.loginError(username, err)
	}

	session := Session{
		UserData:          map[string]string{"id": uuid.NewString(), "username": username, "role": "admin"},
		Compliance:        snapshot,
		DeviceFingerprint: fingerprint,
		Timestamp:         time.Now().UTC(),
		Token:             token,
	}
	if err := m.store.SetItem(StorageKey, session); err != nil {
		return m.loginError(username, err)
	}

	m.current = &session
	m.auditor.AuditAppend(audit.ActionAdminLoginSuccess, map[string]any{"username": username})
	m.logger.Info().Str("username", username).Msg("Admin login succeeded")
	return m.summaryLocked(), nil
}

func (m *Manager) blocked(reason Reason, extra map[string]any) (Summary, error) {
	details := map[string]any{"reason": string(reason)}
	for k, v := range extra {
		details[k] = v
	}
	m.auditor.AuditAppend(audit.ActionAdminLoginBlocked, details)
	return Summary{State: StateLoggedOut, Reason: reason}, &RejectedError{Reason: reason}
}

func (m *Manager) loginError(username string, err error) (Summary, error) {
	m.auditor.AuditAppend(audit.ActionAdminLoginError, map[string]any{
		"username": username,
		"error":    err.Error(),
	})
	m.logger.Error().Err(err).Str("username", username).Msg("Login failed on infrastructure error")
	return Summary{State: StateLoggedOut}, fmt.Errorf("session: login: %w", err)
}

// Resume restores a persisted session. The envelope signature is
// checked before decryption by the storage layer; this layer re-checks
// the device binding. Any invalid session is deleted, not retried.
func (m *Manager) Resume() (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var session Session
	err := m.store.GetItem(StorageKey, &session)
	switch {
	case errors.Is(err, secstore.ErrNotFound):
		m.state = StateLoggedOut
		m.current = nil
		return Summary{State: StateLoggedOut}, nil
	case errors.Is(err, secstore.ErrIntegrity):
		m.invalidate(audit.ActionSessionInvalidSignature)
		return Summary{State: StateLoggedOut, Reason: ReasonInvalidSignature}, nil
	case err != nil:
		return Summary{State: m.state}, fmt.Errorf("session: resume: %w", err)
	}

	if session.DeviceFingerprint != m.crypto.Fingerprint() {
		m.invalidate(audit.ActionSessionFingerprintMismatch)
		return Summary{State: StateLoggedOut, Reason: ReasonFingerprintMismatch}, nil
	}

	m.current = &session
	m.state = StateLoggedIn
	return m.summaryLocked(), nil
}

// Logout deletes the persisted session and resets state. Safe to call
// repeatedly.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.RemoveItem(StorageKey); err != nil && !errors.Is(err, secstore.ErrNotFound) {
		return fmt.Errorf("session: logout: %w", err)
	}
	m.current = nil
	m.state = StateLoggedOut
	m.auditor.AuditAppend(audit.ActionAdminLogout, nil)
	return nil
}

// Status reports the in-memory session state without touching storage.
func (m *Manager) Status() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaryLocked()
}

func (m *Manager) summaryLocked() Summary {
	if m.current == nil || m.state != StateLoggedIn {
		return Summary{State: m.state}
	}
	return Summary{
		Authenticated:   true,
		State:           m.state,
		Username:        m.current.UserData["username"],
		Token:           m.current.Token,
		ComplianceScore: m.current.Compliance.Score,
		LoginAt:         m.current.Timestamp,
	}
}

func (m *Manager) invalidate(action string) {
	if err := m.store.RemoveItem(StorageKey); err != nil && !errors.Is(err, secstore.ErrNotFound) {
		m.logger.Warn().Err(err).Msg("Failed to delete invalid session")
	}
	m.auditor.AuditAppend(action, nil)
	m.current = nil
	m.state = StateLoggedOut
}

func newToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
