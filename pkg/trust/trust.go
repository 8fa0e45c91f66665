// Package trust is the single entry point into the device trust layer.
// It owns the provider chain, compliance engine, secure storage, audit
// ledger and session manager, and exposes only read-only views and
// typed outcomes to callers. Raw keys and ciphertext never leave it.
package trust

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/prismsec/veritas/pkg/audit"
	"github.com/prismsec/veritas/pkg/compliance"
	"github.com/prismsec/veritas/pkg/crypt"
	"github.com/prismsec/veritas/pkg/keystore"
	"github.com/prismsec/veritas/pkg/provider"
	"github.com/prismsec/veritas/pkg/secstore"
	"github.com/prismsec/veritas/pkg/session"
	"github.com/prismsec/veritas/pkg/storage"
)

// Options configures facade construction. Zero values fall back to
// sensible defaults: in-memory storage, detected security module,
// collected host info.
type Options struct {
	Backend       storage.Backend
	KeystoreDir   string
	Namespace     string
	AuditCapacity int
	ComplianceTTL time.Duration
	Session       session.Config

	// Module overrides platform module detection; nil means probe.
	Module provider.Module
	// HostInfo overrides host attribute collection; nil means collect.
	HostInfo *provider.HostInfo

	Logger zerolog.Logger
}

type Facade struct {
	provider provider.Provider
	auditLog *audit.Log
	engine   *compliance.Engine
	crypto   *crypt.Facade
	store    *secstore.Store
	sessions *session.Manager
	info     provider.HostInfo
	logger   zerolog.Logger
}

func New(opts Options) (*Facade, error) {
	logger := opts.Logger.With().Str("component", "trust").Logger()

	backend := opts.Backend
	if backend == nil {
		backend = storage.NewMemoryBackend()
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "veritas"
	}

	keystoreDir := opts.KeystoreDir
	if keystoreDir == "" {
		keystoreDir = filepath.Join(os.TempDir(), "veritas-keystore")
	}
	keys, err := keystore.Open(keystoreDir)
	if err != nil {
		return nil, fmt.Errorf("trust: open keystore: %w", err)
	}

	auditLog := audit.New(backend, namespace, opts.AuditCapacity, opts.Logger)

	info := provider.CollectHostInfo()
	if opts.HostInfo != nil {
		info = *opts.HostInfo
	}

	std := provider.NewStandard(keys, auditLog, info, opts.Logger)
	module := opts.Module
	if module == nil {
		module = provider.DetectModule()
	}
	strong := provider.NewStrong(module, std, opts.Logger)

	auditLog.SetState(func() (bool, string) {
		return strong.Enabled(), string(strong.SecurityLevel())
	})

	crypto := crypt.New(strong)
	engine := compliance.NewEngine(strong, opts.ComplianceTTL)
	store := secstore.New(backend, crypto, strong, opts.Logger)
	sessions := session.NewManager(engine, crypto, store, strong, opts.Session, opts.Logger)

	return &Facade{
		provider: strong,
		auditLog: auditLog,
		engine:   engine,
		crypto:   crypto,
		store:    store,
		sessions: sessions,
		info:     info,
		logger:   logger,
	}, nil
}

// Compliance returns the scored posture snapshot, refreshed when stale
// or when force is set.
func (f *Facade) Compliance(force bool) compliance.Snapshot {
	return f.engine.Refresh(force)
}

func (f *Facade) Login(username, password string) (session.Summary, error) {
	return f.sessions.Login(username, password)
}

func (f *Facade) Logout() error {
	return f.sessions.Logout()
}

func (f *Facade) Resume() (session.Summary, error) {
	return f.sessions.Resume()
}

func (f *Facade) Status() session.Summary {
	return f.sessions.Status()
}

// Audit returns up to limit entries, newest first.
func (f *Facade) Audit(limit int) []audit.Entry {
	return f.auditLog.Read(limit)
}

func (f *Facade) AuditFiltered(filter audit.Filter) []audit.Entry {
	return f.auditLog.Filtered(filter)
}

// ExportAudit ships matching entries through the exporter and returns
// the job reference without waiting for completion.
func (f *Facade) ExportAudit(exporter audit.Exporter, filter audit.Filter, timeout time.Duration) string {
	return f.auditLog.Export(exporter, filter, timeout)
}

// Device lifecycle actions external flows may record through the
// facade. Everything else in the taxonomy is emitted internally.
var recordable = map[string]bool{
	audit.ActionDeviceRegistered:        true,
	audit.ActionDeviceApproved:          true,
	audit.ActionDeviceRejected:          true,
	audit.ActionDeviceComplianceRefresh: true,
}

// Record appends a device lifecycle event on behalf of an external
// flow. Actions outside the lifecycle subset are refused.
func (f *Facade) Record(action string, details map[string]any) error {
	if !recordable[action] {
		return fmt.Errorf("trust: action %q is not recordable through the facade", action)
	}
	f.provider.AuditAppend(action, details)
	return nil
}

func (f *Facade) EncryptString(plaintext string) (string, error) {
	return f.crypto.Encrypt([]byte(plaintext))
}

func (f *Facade) DecryptString(ciphertext string) (string, error) {
	raw, err := f.crypto.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (f *Facade) SignString(data string) (string, error) {
	return f.crypto.Sign([]byte(data))
}

func (f *Facade) VerifyString(data, signature string) bool {
	return f.crypto.Verify([]byte(data), signature)
}

func (f *Facade) HashString(data string) string {
	return f.crypto.Hash([]byte(data))
}

// SetItem and GetItem expose the secure store for callers that persist
// their own payloads under the facade's envelope rules.
func (f *Facade) SetItem(key string, value any) error {
	return f.store.SetItem(key, value)
}

func (f *Facade) GetItem(key string, out any) error {
	return f.store.GetItem(key, out)
}

func (f *Facade) RemoveItem(key string) error {
	return f.store.RemoveItem(key)
}

// DeviceInfo is the non-secret device attribute summary.
func (f *Facade) DeviceInfo() map[string]string {
	posture := provider.Snapshot(f.provider)
	return map[string]string{
		"device_id":       posture.DeviceID,
		"fingerprint":     posture.Fingerprint,
		"security_level":  string(posture.SecurityLevel),
		"hardware_backed": fmt.Sprintf("%t", posture.HardwareBackedStorage),
		"os":              f.info.OS,
		"os_name":         f.info.OSName,
		"arch":            f.info.Arch,
		"kernel":          f.info.Kernel,
		"hostname":        f.info.Hostname,
	}
}

// Posture returns the raw provider snapshot without scoring.
func (f *Facade) Posture() provider.Posture {
	return provider.Snapshot(f.provider)
}
