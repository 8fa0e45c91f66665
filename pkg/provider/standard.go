package provider

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/prismsec/veritas/pkg/audit"
	"github.com/prismsec/veritas/pkg/keystore"
)

// Superuser binary locations checked by the compromise heuristic.
var defaultSUPaths = []string{
	"/system/bin/su",
	"/system/xbin/su",
	"/sbin/su",
	"/usr/local/bin/su-hijack",
	"/data/local/su",
	"/data/local/bin/su",
	"/data/local/xbin/su",
}

// Standard is the software fallback provider: keys live in the local
// keystore, posture comes from host probes. It reports Enabled() false
// because the strong module is by definition absent on this path.
type Standard struct {
	keys     *keystore.Store
	auditLog *audit.Log
	logger   zerolog.Logger
	info     HostInfo

	// Compromise heuristic inputs, overridable in tests.
	suPaths     []string
	execProbe   func(command string) bool
	probeShell  bool
	debugSignal bool

	hardwareBacked func() bool
}

func NewStandard(keys *keystore.Store, auditLog *audit.Log, info HostInfo, logger zerolog.Logger) *Standard {
	return &Standard{
		keys:           keys,
		auditLog:       auditLog,
		logger:         logger.With().Str("component", "provider").Logger(),
		info:           info,
		suPaths:        defaultSUPaths,
		execProbe:      canExecute,
		probeShell:     runtime.GOOS == "android",
		hardwareBacked: hardwareKeystorePresent,
	}
}

func (s *Standard) Enabled() bool { return false }

// SecurityLevel grades the posture: a hardware-backed keystore on an
// uncompromised device rates MEDIUM; HIGH requires the strong module
// and is only reachable through the Strong variant.
func (s *Standard) SecurityLevel() Level {
	if s.HardwareBacked() && !s.Compromised() {
		return LevelMedium
	}
	return LevelLow
}

// Compromised runs the root-detection heuristic: debug/test build
// signal, known superuser binary paths, and a `which su` probe. The
// shell probe only runs where su is not expected to exist; a stock su
// on a server host is not a compromise signal. This is a best-effort
// signal with known bypasses, not a security guarantee.
func (s *Standard) Compromised() bool {
	if s.debugSignal {
		return true
	}
	for _, path := range s.suPaths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	if s.probeShell {
		return s.execProbe("which su")
	}
	return false
}

func (s *Standard) HardwareBacked() bool {
	return s.hardwareBacked()
}

func (s *Standard) Encrypt(plaintext []byte) (string, error) {
	return s.keys.Encrypt(plaintext)
}

func (s *Standard) Decrypt(ciphertext string) ([]byte, error) {
	return s.keys.Decrypt(ciphertext)
}

func (s *Standard) Sign(data []byte) (string, error) {
	return s.keys.Sign(data)
}

func (s *Standard) Verify(data []byte, signature string) bool {
	return s.keys.Verify(data, signature)
}

func (s *Standard) DeviceID() string {
	if s.info.MachineID != "" && s.info.MachineID != "unknown" {
		return s.info.MachineID
	}
	return s.info.Hostname
}

// Fingerprint hashes the stable device attributes plus the device ID.
// Sessions and envelopes are bound to this value to prevent replay on
// another device.
func (s *Standard) Fingerprint() string {
	raw := strings.Join([]string{
		s.info.OS,
		s.info.Arch,
		s.info.Hostname,
		s.info.OSName,
		s.info.Kernel,
		s.DeviceID(),
	}, "|")
	digest := sha256.Sum256([]byte(raw))
	return base64.StdEncoding.EncodeToString(digest[:])
}

func (s *Standard) AuditAppend(action string, details map[string]any) bool {
	return s.auditLog.Append(action, details)
}

func (s *Standard) AuditRead(limit int) []audit.Entry {
	return s.auditLog.Read(limit)
}

func canExecute(command string) bool {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return false
	}
	out, err := exec.Command(parts[0], parts[1:]...).Output()
	return err == nil && len(strings.TrimSpace(string(out))) > 0
}

var _ Provider = (*Standard)(nil)
