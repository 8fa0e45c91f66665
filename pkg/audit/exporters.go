package audit

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// LogExporter writes exported entries to the structured log. It is the
// default sink when no remote transport is configured.
type LogExporter struct {
	logger zerolog.Logger
}

func NewLogExporter(logger zerolog.Logger) *LogExporter {
	return &LogExporter{logger: logger.With().Str("component", "audit-export").Logger()}
}

func (e *LogExporter) Export(_ context.Context, job string, entries []Entry) error {
	for _, entry := range entries {
		e.logger.Info().
			Str("job", job).
			Str("id", entry.ID).
			Str("action", entry.Action).
			Time("timestamp", entry.Timestamp).
			Bool("provider_enabled", entry.ProviderEnabled).
			Str("security_level", entry.SecurityLevel).
			Fields(entry.Details).
			Msg("audit entry")
	}
	return nil
}

// MockExporter records export calls for tests.
type MockExporter struct {
	mu      sync.Mutex
	fail    error
	batches map[string][]Entry
}

func NewMockExporter() *MockExporter {
	return &MockExporter{batches: make(map[string][]Entry)}
}

// FailWith makes every subsequent Export return err.
func (e *MockExporter) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = err
}

func (e *MockExporter) Export(_ context.Context, job string, entries []Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		return e.fail
	}
	batch := make([]Entry, len(entries))
	copy(batch, entries)
	e.batches[job] = batch
	return nil
}

// Batch returns the entries recorded for a job, if any.
func (e *MockExporter) Batch(job string) ([]Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	batch, ok := e.batches[job]
	return batch, ok
}

var (
	_ Exporter = (*LogExporter)(nil)
	_ Exporter = (*MockExporter)(nil)
)
