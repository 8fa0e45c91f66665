// Package compliance derives a scored posture summary from the security
// provider. The score is a heuristic for gating privileged actions, not
// a certification of anything.
package compliance

import (
	"sync"
	"time"

	"github.com/prismsec/veritas/pkg/audit"
	"github.com/prismsec/veritas/pkg/provider"
)

// DefaultTTL is how long a cached snapshot stays fresh.
const DefaultTTL = 60 * time.Second

const (
	// ErrDeviceCompromised hard-blocks privileged access.
	ErrDeviceCompromised = "device compromised"

	WarnNoHardwareKeystore = "no hardware-backed keystore"
	WarnFallbackMode       = "strong security module unavailable; running in fallback mode"
)

// Snapshot is the scored compliance state. Errors drive the score below
// the blocking threshold; warnings are informational.
type Snapshot struct {
	Posture   provider.Posture `json:"posture"`
	Score     int              `json:"score"`
	Warnings  []string         `json:"warnings"`
	Errors    []string         `json:"errors"`
	LastCheck time.Time        `json:"last_check"`
}

// Blocking reports whether the snapshot forbids privileged access.
func (s Snapshot) Blocking() bool {
	return len(s.Errors) > 0
}

// Engine owns the cached snapshot. The mutex is held across the
// provider query so concurrent non-forced refreshes coalesce into a
// single posture read.
type Engine struct {
	provider provider.Provider
	ttl      time.Duration

	mu     sync.Mutex
	cached Snapshot
	valid  bool
}

func NewEngine(p provider.Provider, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{provider: p, ttl: ttl}
}

// Refresh returns the current snapshot, re-querying the provider when
// the cache is stale or force is set. Forced refreshes are recorded in
// the audit ledger.
func (e *Engine) Refresh(force bool) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !force && e.valid && time.Since(e.cached.LastCheck) < e.ttl {
		return e.cached
	}

	posture := provider.Snapshot(e.provider)
	snapshot := evaluate(posture)
	e.cached = snapshot
	e.valid = true

	if force {
		e.provider.AuditAppend(audit.ActionKnoxComplianceRefresh, map[string]any{
			"score":    snapshot.Score,
			"warnings": len(snapshot.Warnings),
			"errors":   len(snapshot.Errors),
		})
	}
	return snapshot
}

func evaluate(posture provider.Posture) Snapshot {
	var warnings, errors []string

	if posture.Compromised {
		errors = append(errors, ErrDeviceCompromised)
	}
	if !posture.HardwareBackedStorage {
		warnings = append(warnings, WarnNoHardwareKeystore)
	}
	if !posture.ProviderEnabled {
		warnings = append(warnings, WarnFallbackMode)
	}

	return Snapshot{
		Posture:   posture,
		Score:     Score(errors, warnings),
		Warnings:  warnings,
		Errors:    errors,
		LastCheck: posture.CheckedAt,
	}
}

// Score maps the issue lists onto [0,100]. Any error caps the result at
// 60; a clean posture scores exactly 100.
func Score(errors, warnings []string) int {
	if len(errors) > 0 {
		return max(0, 100-40*len(errors))
	}
	return max(0, 100-10*len(warnings))
}
