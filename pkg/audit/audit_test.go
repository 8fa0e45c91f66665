package audit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prismsec/veritas/pkg/storage"
)

func newLog(t *testing.T, backend storage.Backend, capacity int) *Log {
	t.Helper()
	return New(backend, "test", capacity, zerolog.Nop())
}

func TestAppendBounded(t *testing.T) {
	backend := storage.NewMemoryBackend()
	log := newLog(t, backend, 200)

	for i := 0; i < 250; i++ {
		require.True(t, log.Append(ActionStorageWrite, map[string]any{"n": i}))
	}

	require.Equal(t, 200, log.Len())

	entries := log.Read(0)
	require.Len(t, entries, 200)
	// Newest first: entry 249 at index 0, the 50 oldest evicted.
	require.Equal(t, 249, entries[0].Details["n"])
	require.Equal(t, 50, entries[199].Details["n"])
}

func TestReadLimit(t *testing.T) {
	log := newLog(t, storage.NewMemoryBackend(), 0)
	for i := 0; i < 10; i++ {
		log.Append(ActionStorageRead, nil)
	}
	require.Len(t, log.Read(3), 3)
	require.Len(t, log.Read(0), 10)
	require.Len(t, log.Read(100), 10)
}

func TestEntriesSurviveReload(t *testing.T) {
	backend := storage.NewMemoryBackend()
	log := newLog(t, backend, 0)
	log.Append(ActionAdminLoginAttempt, map[string]any{"username": "admin"})
	log.Append(ActionAdminLoginSuccess, nil)

	reloaded := newLog(t, backend, 0)
	entries := reloaded.Read(0)
	require.Len(t, entries, 2)
	require.Equal(t, ActionAdminLoginSuccess, entries[0].Action)
	require.Equal(t, ActionAdminLoginAttempt, entries[1].Action)
}

func TestCorruptLedgerFailsOpen(t *testing.T) {
	backend := storage.NewMemoryBackend()
	require.NoError(t, backend.Set("test/audit/logs", "{not json"))

	log := newLog(t, backend, 0)

	// The corruption is discarded and recorded as the first new entry.
	entries := log.Read(0)
	require.Len(t, entries, 1)
	require.Equal(t, ActionStorageIntegrityFailure, entries[0].Action)

	// The ledger keeps working afterwards.
	require.True(t, log.Append(ActionAdminLogout, nil))
	require.Equal(t, 2, log.Len())
}

func TestAppendKeepsEntryOnPersistFailure(t *testing.T) {
	backend := &failingBackend{Backend: storage.NewMemoryBackend()}
	log := newLog(t, backend, 0)

	backend.failSet = true
	require.False(t, log.Append(ActionAdminLogout, nil))
	require.Equal(t, 1, log.Len())
}

func TestFiltered(t *testing.T) {
	log := newLog(t, storage.NewMemoryBackend(), 0)
	log.Append(ActionAdminLoginAttempt, nil)
	log.Append(ActionAdminLoginBlocked, nil)
	log.Append(ActionAdminLoginAttempt, nil)

	blocked := log.Filtered(Filter{Action: ActionAdminLoginBlocked})
	require.Len(t, blocked, 1)

	attempts := log.Filtered(Filter{Action: ActionAdminLoginAttempt, Limit: 1})
	require.Len(t, attempts, 1)

	future := log.Filtered(Filter{Since: time.Now().Add(time.Hour)})
	require.Empty(t, future)
}

func TestStateStampedOnEntries(t *testing.T) {
	log := newLog(t, storage.NewMemoryBackend(), 0)
	log.SetState(func() (bool, string) { return true, "HIGH" })

	log.Append(ActionAdminLoginSuccess, nil)
	entry := log.Read(1)[0]
	require.True(t, entry.ProviderEnabled)
	require.Equal(t, "HIGH", entry.SecurityLevel)
	require.NotEmpty(t, entry.ID)
}

func TestExportDeliversBatch(t *testing.T) {
	log := newLog(t, storage.NewMemoryBackend(), 0)
	log.Append(ActionAdminLoginAttempt, nil)
	log.Append(ActionAdminLoginBlocked, nil)

	exporter := NewMockExporter()
	job := log.Export(exporter, Filter{Action: ActionAdminLoginBlocked}, time.Second)
	require.NotEmpty(t, job)

	batch := waitForBatch(t, exporter, job)
	require.Len(t, batch, 1)
	require.Equal(t, ActionAdminLoginBlocked, batch[0].Action)
}

func TestExportFailureDoesNotBlockCaller(t *testing.T) {
	log := newLog(t, storage.NewMemoryBackend(), 0)
	log.Append(ActionAdminLoginAttempt, nil)

	exporter := NewMockExporter()
	exporter.FailWith(errors.New("sink down"))

	job := log.Export(exporter, Filter{}, 100*time.Millisecond)
	require.NotEmpty(t, job)

	// The failed job never lands; the caller already moved on.
	time.Sleep(300 * time.Millisecond)
	_, ok := exporter.Batch(job)
	require.False(t, ok)
}

func waitForBatch(t *testing.T, exporter *MockExporter, job string) []Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if batch, ok := exporter.Batch(job); ok {
			return batch
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("export job %s never delivered", job)
	return nil
}

type failingBackend struct {
	storage.Backend
	failSet bool
}

func (b *failingBackend) Set(key, value string) error {
	if b.failSet {
		return fmt.Errorf("backend unavailable")
	}
	return b.Backend.Set(key, value)
}
