package wallet

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"
	"testing"
	"time"

	"perpbot/internal/adapter/enum"
	"perpbot/pkg/exception"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// well known hardhat account #0
const (
	hardhatKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	hardhatAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestEVMSignMessage(t *testing.T) {
	w, err := NewEVM(hardhatKey)
	require.NoError(t, err)
	assert.Equal(t, enum.ChainEVM, w.Chain())
	assert.Equal(t, hardhatAddress, w.Address())

	sig, err := w.SignMessage(t.Context(), "abc")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sig, "0x"))
	assert.Len(t, sig, 2+65*2)

	v := sig[len(sig)-2:]
	assert.Contains(t, []string{"1b", "1c"}, v)

	recovered, err := RecoverEVMAddress("abc", sig)
	require.NoError(t, err)
	assert.Equal(t, hardhatAddress, recovered)

	other, err := RecoverEVMAddress("abd", sig)
	require.NoError(t, err)
	assert.NotEqual(t, hardhatAddress, other)

	assert.NotContains(t, fmt.Sprintf("%+v", w), strings.TrimPrefix(hardhatKey, "0x"))
	assert.NotContains(t, fmt.Sprintf("%#v", w), strings.TrimPrefix(hardhatKey, "0x"))
}

func TestEVMInvalidKey(t *testing.T) {
	_, err := NewEVM("0x1234")
	require.ErrorIs(t, err, exception.ErrSignature)
}

func TestSolanaSignMessage(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	key := ed25519.NewKeyFromSeed(seed)

	fromKeypair, err := NewSolana(base58.Encode(key))
	require.NoError(t, err)
	fromSeed, err := NewSolana(base58.Encode(seed))
	require.NoError(t, err)
	assert.Equal(t, fromKeypair.Address(), fromSeed.Address())
	assert.Equal(t, base58.Encode(key.Public().(ed25519.PublicKey)), fromSeed.Address())
	assert.Equal(t, enum.ChainSolana, fromSeed.Chain())

	sig, err := fromSeed.SignMessage(t.Context(), "abc")
	require.NoError(t, err)
	assert.True(t, VerifySolana(fromSeed.Address(), "abc", sig))
	assert.False(t, VerifySolana(fromSeed.Address(), "abd", sig))
}

func TestSolanaInvalidKey(t *testing.T) {
	testCases := []struct {
		desc   string
		secret string
	}{
		{"not base58", "0OIl"},
		{"wrong length", base58.Encode([]byte{1, 2, 3})},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := NewSolana(tc.secret)
			require.ErrorIs(t, err, exception.ErrSignature)
		})
	}

	key := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	tampered := append([]byte(nil), key...)
	tampered[63] ^= 0xff
	_, err := NewSolana(base58.Encode(tampered))
	require.ErrorIs(t, err, exception.ErrSignature)
}

func TestMockHonorsContext(t *testing.T) {
	m := &Mock{ChainID: enum.ChainEVM, Addr: "0xabc", Signature: "0xsig", Delay: time.Minute}

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.SignMessage(ctx, "abc")
	require.ErrorIs(t, err, exception.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"abc"}, m.Messages())

	m.Delay = 0
	sig, err := m.SignMessage(t.Context(), "def")
	require.NoError(t, err)
	assert.Equal(t, "0xsig", sig)
}

func TestNew(t *testing.T) {
	w, err := New(enum.ChainEVM, hardhatKey)
	require.NoError(t, err)
	assert.Equal(t, hardhatAddress, w.Address())

	_, err = New(enum.ChainSolana, "")
	require.ErrorIs(t, err, exception.ErrConfig)

	w, err = New(enum.ChainEVM, "garbage")
	require.ErrorIs(t, err, exception.ErrSignature)
	assert.Nil(t, w)

	_, err = New(enum.Chain(0), "x")
	require.ErrorIs(t, err, exception.ErrConfig)
}
