package crypt

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prismsec/veritas/pkg/audit"
	"github.com/prismsec/veritas/pkg/keystore"
	"github.com/prismsec/veritas/pkg/provider"
	"github.com/prismsec/veritas/pkg/storage"
)

func newFacade(t *testing.T) *Facade {
	t.Helper()
	keys, err := keystore.Open(t.TempDir())
	require.NoError(t, err)
	log := audit.New(storage.NewMemoryBackend(), "test", 0, zerolog.Nop())
	info := provider.HostInfo{OS: "linux", Arch: "amd64", Hostname: "h", OSName: "o", Kernel: "k", MachineID: "m"}
	std := provider.NewStandard(keys, log, info, zerolog.Nop())
	return New(provider.NewStrong(nil, std, zerolog.Nop()))
}

func TestFacadeRoundTrip(t *testing.T) {
	facade := newFacade(t)

	ciphertext, err := facade.Encrypt([]byte("payload"))
	require.NoError(t, err)
	plaintext, err := facade.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "payload", string(plaintext))

	signature, err := facade.Sign([]byte("payload"))
	require.NoError(t, err)
	require.True(t, facade.Verify([]byte("payload"), signature))
	require.False(t, facade.Verify([]byte("payloadx"), signature))
}

func TestHash(t *testing.T) {
	facade := newFacade(t)

	digest := sha256.Sum256([]byte("abc"))
	want := base64.StdEncoding.EncodeToString(digest[:])
	require.Equal(t, want, facade.Hash([]byte("abc")))

	// Deterministic and input-sensitive.
	require.Equal(t, facade.Hash([]byte("abc")), facade.Hash([]byte("abc")))
	require.NotEqual(t, facade.Hash([]byte("abc")), facade.Hash([]byte("abd")))
}

func TestFingerprintPassthrough(t *testing.T) {
	facade := newFacade(t)
	require.NotEmpty(t, facade.Fingerprint())
	require.Equal(t, facade.Fingerprint(), facade.Fingerprint())
}
