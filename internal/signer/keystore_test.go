package signer

import (
	"os"
	"path/filepath"
	"testing"

	"perpbot/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyStoreGetOrCreate(t *testing.T) {
	dir := t.TempDir()
	ks, err := NewKeyStore(dir)
	require.NoError(t, err)

	const address = "0xAbCdEf0000000000000000000000000000000001"
	s, err := ks.GetOrCreate(address)
	require.NoError(t, err)

	path := filepath.Join(dir, "0xabcdef0000000000000000000000000000000001.key")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cached, err := ks.GetOrCreate("0xabcdef0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Same(t, s, cached)

	// a fresh store reads the same key from disk
	reopened, err := NewKeyStore(dir)
	require.NoError(t, err)
	loaded, err := reopened.GetOrCreate(address)
	require.NoError(t, err)
	assert.Equal(t, s.PublicKeyBase58(), loaded.PublicKeyBase58())

	pub, err := reopened.PublicKey(address)
	require.NoError(t, err)
	assert.Equal(t, s.PublicKeyBase58(), pub)
}

func TestKeyStoreSeparatesAddresses(t *testing.T) {
	ks, err := NewKeyStore(t.TempDir())
	require.NoError(t, err)

	a, err := ks.GetOrCreate("SoLAddr1111")
	require.NoError(t, err)
	b, err := ks.GetOrCreate("soladdr1111")
	require.NoError(t, err)
	assert.NotEqual(t, a.PublicKeyBase58(), b.PublicKeyBase58())
}

func TestKeyStoreCorruptKey(t *testing.T) {
	testCases := []struct {
		desc    string
		content string
	}{
		{"not hex", "zz-not-hex"},
		{"short", "abcd"},
		{"long", "00000000000000000000000000000000000000000000000000000000000000000000"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "wallet.key"), []byte(tc.content), 0o600))
			ks, err := NewKeyStore(dir)
			require.NoError(t, err)

			_, err = ks.GetOrCreate("wallet")
			require.ErrorIs(t, err, exception.ErrStorage)
			assert.NotContains(t, err.Error(), tc.content)
		})
	}
}

func TestKeyStoreImport(t *testing.T) {
	ks, err := NewKeyStore(t.TempDir())
	require.NoError(t, err)

	s, err := ks.Import("acct", testSeed(3))
	require.NoError(t, err)

	same, err := ks.Import("acct", testSeed(3))
	require.NoError(t, err)
	assert.Equal(t, s.PublicKeyBase58(), same.PublicKeyBase58())

	_, err = ks.Import("acct", testSeed(4))
	require.ErrorIs(t, err, exception.ErrStorage)

	got, err := ks.GetOrCreate("acct")
	require.NoError(t, err)
	assert.Equal(t, s.PublicKeyBase58(), got.PublicKeyBase58())
}

func TestKeyStoreRejectsBadAddress(t *testing.T) {
	ks, err := NewKeyStore(t.TempDir())
	require.NoError(t, err)

	for _, address := range []string{"", "../escape", "a/b", "with space"} {
		_, err := ks.GetOrCreate(address)
		require.ErrorIs(t, err, exception.ErrInvalidArgument, address)
	}
}

func TestKeyStorePublicKeyMissing(t *testing.T) {
	ks, err := NewKeyStore(t.TempDir())
	require.NoError(t, err)
	_, err = ks.PublicKey("nobody")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestKeyStoreUnwritableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	ks, err := NewKeyStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	_, err = ks.GetOrCreate("wallet")
	require.ErrorIs(t, err, exception.ErrStorage)
}
