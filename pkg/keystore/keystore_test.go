package keystore

import (
	"encoding/base64"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	store := newStore(t)

	cases := []string{
		"",
		"hello",
		"payload with spaces and symbols !@#$%^&*()",
		string(make([]byte, 4096)),
	}
	for _, plaintext := range cases {
		ciphertext, err := store.Encrypt([]byte(plaintext))
		require.NoError(t, err)
		require.NotEqual(t, plaintext, ciphertext)

		decrypted, err := store.Decrypt(ciphertext)
		require.NoError(t, err)
		require.Equal(t, plaintext, string(decrypted))
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	store := newStore(t)

	cases := []struct {
		name  string
		input string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"too short", base64.StdEncoding.EncodeToString([]byte{1, 2})},
		{"bad nonce length", base64.StdEncoding.EncodeToString([]byte{0xff, 0xff, 0xff, 0xff, 1, 2, 3})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Decrypt(tc.input)
			require.ErrorIs(t, err, ErrMalformedCiphertext)
		})
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	store := newStore(t)

	ciphertext, err := store.Encrypt([]byte("sensitive"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = store.Decrypt(tampered)
	require.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	store := newStore(t)

	data := []byte("attest this")
	signature, err := store.Sign(data)
	require.NoError(t, err)
	require.True(t, store.Verify(data, signature))

	require.False(t, store.Verify([]byte("attest thisx"), signature))
	require.False(t, store.Verify(data, "not-a-signature"))
	require.False(t, store.Verify(data, ""))
}

func TestSignaturesAreProbabilistic(t *testing.T) {
	store := newStore(t)

	data := []byte("same payload")
	first, err := store.Sign(data)
	require.NoError(t, err)
	second, err := store.Sign(data)
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.True(t, store.Verify(data, first))
	require.True(t, store.Verify(data, second))
}

func TestKeysSurviveReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	ciphertext, err := store.Encrypt([]byte("durable"))
	require.NoError(t, err)
	signature, err := store.Sign([]byte("durable"))
	require.NoError(t, err)

	reopened, err := Open(dir)
	require.NoError(t, err)
	decrypted, err := reopened.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "durable", string(decrypted))
	require.True(t, reopened.Verify([]byte("durable"), signature))
}

func TestConcurrentFirstUseCreatesOneKey(t *testing.T) {
	store := newStore(t)

	var wg sync.WaitGroup
	ciphertexts := make([]string, 16)
	for i := range ciphertexts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := store.Encrypt([]byte("racer"))
			require.NoError(t, err)
			ciphertexts[i] = out
		}(i)
	}
	wg.Wait()

	// All ciphertexts must decrypt under the single surviving key.
	for _, ciphertext := range ciphertexts {
		decrypted, err := store.Decrypt(ciphertext)
		require.NoError(t, err)
		require.Equal(t, "racer", string(decrypted))
	}
}
