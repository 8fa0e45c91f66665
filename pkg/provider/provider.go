// Package provider exposes a uniform interface over the device's
// security capabilities. Two variants exist: Strong wraps an optional
// platform security module and falls back per operation, Standard is
// the software keystore path that always works.
package provider

import (
	"time"

	"github.com/prismsec/veritas/pkg/audit"
)

// Level grades the device's overall security posture.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Path tags which variant served a cryptographic primitive. Fallback
// decisions are per operation, never global.
type Path string

const (
	PathStrong   Path = "strong"
	PathStandard Path = "standard"
)

// Provider is the capability surface consumed by the rest of the trust
// layer. No method panics; crypto primitives return a value or a typed
// error, and the posture getters always answer.
type Provider interface {
	Enabled() bool
	SecurityLevel() Level
	Compromised() bool
	HardwareBacked() bool

	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
	Sign(data []byte) (string, error)
	Verify(data []byte, signature string) bool

	DeviceID() string
	Fingerprint() string

	AuditAppend(action string, details map[string]any) bool
	AuditRead(limit int) []audit.Entry
}

// Posture is an immutable snapshot of device state. A new query
// supersedes it; it is never mutated in place.
type Posture struct {
	ProviderEnabled       bool      `json:"provider_enabled"`
	SecurityLevel         Level     `json:"security_level"`
	Compromised           bool      `json:"compromised"`
	HardwareBackedStorage bool      `json:"hardware_backed_storage"`
	DeviceID              string    `json:"device_id"`
	Fingerprint           string    `json:"fingerprint"`
	CheckedAt             time.Time `json:"checked_at"`
}

// Snapshot collects a Posture from any Provider.
func Snapshot(p Provider) Posture {
	return Posture{
		ProviderEnabled:       p.Enabled(),
		SecurityLevel:         p.SecurityLevel(),
		Compromised:           p.Compromised(),
		HardwareBackedStorage: p.HardwareBacked(),
		DeviceID:              p.DeviceID(),
		Fingerprint:           p.Fingerprint(),
		CheckedAt:             time.Now().UTC(),
	}
}
