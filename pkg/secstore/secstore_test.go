package secstore

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prismsec/veritas/pkg/audit"
	"github.com/prismsec/veritas/pkg/crypt"
	"github.com/prismsec/veritas/pkg/keystore"
	"github.com/prismsec/veritas/pkg/provider"
	"github.com/prismsec/veritas/pkg/storage"
)

// testProvider backs the crypto facade with a real keystore while
// keeping posture answers fixed.
type testProvider struct {
	keys        *keystore.Store
	log         *audit.Log
	fingerprint string
}

func (p *testProvider) Enabled() bool                        { return false }
func (p *testProvider) SecurityLevel() provider.Level        { return provider.LevelLow }
func (p *testProvider) Compromised() bool                    { return false }
func (p *testProvider) HardwareBacked() bool                 { return false }
func (p *testProvider) Encrypt(b []byte) (string, error)     { return p.keys.Encrypt(b) }
func (p *testProvider) Decrypt(s string) ([]byte, error)     { return p.keys.Decrypt(s) }
func (p *testProvider) Sign(b []byte) (string, error)        { return p.keys.Sign(b) }
func (p *testProvider) Verify(b []byte, sig string) bool     { return p.keys.Verify(b, sig) }
func (p *testProvider) DeviceID() string                     { return "device-1" }
func (p *testProvider) Fingerprint() string                  { return p.fingerprint }
func (p *testProvider) AuditRead(limit int) []audit.Entry    { return p.log.Read(limit) }
func (p *testProvider) AuditAppend(action string, details map[string]any) bool {
	return p.log.Append(action, details)
}

type fixture struct {
	store   *Store
	backend *storage.MemoryBackend
	log     *audit.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	keys, err := keystore.Open(t.TempDir())
	require.NoError(t, err)
	backend := storage.NewMemoryBackend()
	log := audit.New(backend, "test", 0, zerolog.Nop())
	p := &testProvider{keys: keys, log: log, fingerprint: "fp-test"}
	facade := crypt.New(p)
	return &fixture{
		store:   New(backend, facade, p, zerolog.Nop()),
		backend: backend,
		log:     log,
	}
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSetGetRoundTrip(t *testing.T) {
	f := newFixture(t)

	in := payload{Name: "alpha", Count: 42}
	require.NoError(t, f.store.SetItem("items/alpha", in))

	var out payload
	require.NoError(t, f.store.GetItem("items/alpha", &out))
	require.Equal(t, in, out)

	actions := actionsOf(f.log)
	require.Contains(t, actions, audit.ActionStorageWrite)
	require.Contains(t, actions, audit.ActionStorageRead)
}

func TestGetMissingKey(t *testing.T) {
	f := newFixture(t)
	var out payload
	require.ErrorIs(t, f.store.GetItem("absent", &out), ErrNotFound)
}

func TestEnvelopeShape(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetItem("k", payload{Name: "x"}))

	envelope, err := f.store.GetEnvelope("k")
	require.NoError(t, err)
	require.True(t, envelope.Encrypted)
	require.NotEmpty(t, envelope.Payload)
	require.NotEmpty(t, envelope.Signature)
	require.Equal(t, "fp-test", envelope.Fingerprint)
	require.False(t, envelope.CreatedAt.IsZero())

	// The payload is ciphertext, not the serialized value.
	raw, err := json.Marshal(payload{Name: "x"})
	require.NoError(t, err)
	require.NotEqual(t, string(raw), envelope.Payload)
}

func TestTamperedCiphertextRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetItem("k", payload{Name: "original"}))

	blob, err := f.backend.Get("k")
	require.NoError(t, err)
	var envelope Envelope
	require.NoError(t, json.Unmarshal([]byte(blob), &envelope))

	envelope.Payload = "tampered:" + envelope.Payload
	tampered, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.NoError(t, f.backend.Set("k", string(tampered)))

	var out payload
	err = f.store.GetItem("k", &out)
	require.ErrorIs(t, err, ErrIntegrity)
	require.Empty(t, out.Name)
	require.Contains(t, actionsOf(f.log), audit.ActionStorageIntegrityFailure)
}

func TestTamperedSignatureRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetItem("k", payload{Name: "original"}))

	blob, err := f.backend.Get("k")
	require.NoError(t, err)
	var envelope Envelope
	require.NoError(t, json.Unmarshal([]byte(blob), &envelope))

	envelope.Signature = "forged"
	tampered, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.NoError(t, f.backend.Set("k", string(tampered)))

	var out payload
	require.ErrorIs(t, f.store.GetItem("k", &out), ErrIntegrity)
}

func TestMalformedEnvelopeRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.backend.Set("k", "{broken"))

	var out payload
	require.ErrorIs(t, f.store.GetItem("k", &out), ErrIntegrity)
}

func TestRemoveItem(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetItem("k", payload{}))
	require.NoError(t, f.store.RemoveItem("k"))

	var out payload
	require.ErrorIs(t, f.store.GetItem("k", &out), ErrNotFound)
	require.Contains(t, actionsOf(f.log), audit.ActionStorageRemove)
}

func TestClearPrefix(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetItem("app/a", payload{}))
	require.NoError(t, f.store.SetItem("app/b", payload{}))
	require.NoError(t, f.store.SetItem("other/c", payload{}))

	removed, err := f.store.Clear("app/")
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	var out payload
	require.ErrorIs(t, f.store.GetItem("app/a", &out), ErrNotFound)
	require.NoError(t, f.store.GetItem("other/c", &out))
	require.Contains(t, actionsOf(f.log), audit.ActionStorageClear)
}

func actionsOf(log *audit.Log) []string {
	entries := log.Read(0)
	actions := make([]string, len(entries))
	for i, entry := range entries {
		actions[i] = entry.Action
	}
	return actions
}
