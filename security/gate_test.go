package security

import (
	"bytes"
	"encoding/hex"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/govm-net/teebridge/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKeypair(t *testing.T, seedByte byte) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	seed := bytes.Repeat([]byte{seedByte}, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv
}

func mustKey(t *testing.T, pub ed25519.PublicKey) PublicKey {
	t.Helper()
	k, err := PublicKeyFromBytes(pub)
	require.NoError(t, err)
	return k
}

func flipBit(b []byte, bit int) []byte {
	out := append([]byte(nil), b...)
	out[bit/8] ^= 1 << (bit % 8)
	return out
}

func TestVerifyProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 32; i++ {
		pub, priv := mustKeypair(t, byte(i))
		msg := make([]byte, 1+rng.Intn(128))
		rng.Read(msg)
		sig := ed25519.Sign(priv, msg)

		require.True(t, Verify(msg, sig, pub))

		// Any single-bit corruption of message, signature or key fails
		assert.False(t, Verify(flipBit(msg, rng.Intn(len(msg)*8)), sig, pub), "message corruption accepted")
		assert.False(t, Verify(msg, flipBit(sig, rng.Intn(len(sig)*8)), pub), "signature corruption accepted")
		assert.False(t, Verify(msg, sig, flipBit(pub, rng.Intn(len(pub)*8))), "key corruption accepted")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	pub, priv := mustKeypair(t, 1)
	sig := ed25519.Sign(priv, []byte("m"))

	assert.False(t, Verify([]byte("m"), sig[:63], pub))
	assert.False(t, Verify([]byte("m"), sig, pub[:31]))
	assert.False(t, Verify([]byte("m"), nil, nil))
}

func TestSignHelpers(t *testing.T) {
	seed := bytes.Repeat([]byte{9}, ed25519.SeedSize)
	sig, err := Sign([]byte("hello"), seed)
	require.NoError(t, err)

	pk, err := PublicKeyFromSeed(seed)
	require.NoError(t, err)
	assert.True(t, Verify([]byte("hello"), sig, pk[:]))

	_, err = Sign([]byte("hello"), seed[:5])
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestBatchVerify(t *testing.T) {
	pub1, priv1 := mustKeypair(t, 1)
	pub2, priv2 := mustKeypair(t, 2)
	m1, m2 := []byte("one"), []byte("two")

	// Pairwise
	assert.True(t, BatchVerify(
		[][]byte{m1, m2},
		[][]byte{ed25519.Sign(priv1, m1), ed25519.Sign(priv2, m2)},
		[][]byte{pub1, pub2}))

	// One message, many signers
	assert.True(t, BatchVerify(
		[][]byte{m1},
		[][]byte{ed25519.Sign(priv1, m1), ed25519.Sign(priv2, m1)},
		[][]byte{pub1, pub2}))

	// One signer, many messages
	assert.True(t, BatchVerify(
		[][]byte{m1, m2},
		[][]byte{ed25519.Sign(priv1, m1), ed25519.Sign(priv1, m2)},
		[][]byte{pub1}))

	assert.True(t, BatchVerify(nil, nil, nil))

	// Swapped signatures
	assert.False(t, BatchVerify(
		[][]byte{m1, m2},
		[][]byte{ed25519.Sign(priv2, m2), ed25519.Sign(priv1, m1)},
		[][]byte{pub1, pub2}))

	// Length mismatch
	assert.False(t, BatchVerify([][]byte{m1, m2}, [][]byte{ed25519.Sign(priv1, m1)}, [][]byte{pub1, pub2}))
}

func TestAuthorizeIsFixedAtLoad(t *testing.T) {
	pub1, _ := mustKeypair(t, 1)
	pub2, _ := mustKeypair(t, 2)

	keys := []PublicKey{mustKey(t, pub1)}
	gate := NewGate(NewWhitelist(keys...))

	assert.True(t, gate.Authorize(pub1))
	assert.False(t, gate.Authorize(pub2))

	// Mutating the caller's slice or key after load does not change membership
	keys[0] = mustKey(t, pub2)
	assert.False(t, gate.Authorize(pub2))
	assert.True(t, gate.Authorize(pub1))

	// Returned keys are copies
	listed := gate.Whitelist().Keys()
	require.Len(t, listed, 1)
	listed[0] = mustKey(t, pub2)
	assert.False(t, gate.Authorize(pub2))

	assert.False(t, gate.Authorize(pub1[:16]))
	assert.False(t, NewGate(nil).Authorize(pub1))
}

func TestGateCheckOrder(t *testing.T) {
	pubOK, privOK := mustKeypair(t, 1)
	pubOther, privOther := mustKeypair(t, 2)
	gate := NewGate(NewWhitelist(mustKey(t, pubOK)))
	msg := []byte(`{"set_config":{}}`)

	assert.Nil(t, gate.Check(msg, ed25519.Sign(privOK, msg), pubOK))

	// Unknown signer is unauthorized even with a valid signature
	err := gate.Check(msg, ed25519.Sign(privOther, msg), pubOther)
	require.NotNil(t, err)
	assert.Equal(t, errors.KindUnauthorized, err.Kind)

	// Whitelisted signer with a bad signature
	err = gate.Check(msg, ed25519.Sign(privOther, msg), pubOK)
	require.NotNil(t, err)
	assert.Equal(t, errors.KindSignatureInvalid, err.Kind)
}

func TestReadWhitelist(t *testing.T) {
	pub1, _ := mustKeypair(t, 1)
	pub2, _ := mustKeypair(t, 2)
	k1, k2 := mustKey(t, pub1), mustKey(t, pub2)

	input := strings.Join([]string{
		"# validators",
		"",
		k1.String(),
		"  " + strings.ToUpper(hex.EncodeToString(pub2)) + "  ",
		k1.String(),
	}, "\n")

	w, err := ReadWhitelist(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, w.Len())
	assert.True(t, w.Contains(k1[:]))
	assert.True(t, w.Contains(k2[:]))

	_, err = ReadWhitelist(strings.NewReader("ed25519:AAAA\n"))
	assert.ErrorContains(t, err, "line 1")
	_, err = ReadWhitelist(strings.NewReader("rsa:AAAA\n"))
	assert.ErrorContains(t, err, "unsupported key algorithm")
}

func TestLoadWhitelist(t *testing.T) {
	pub, _ := mustKeypair(t, 3)
	k := mustKey(t, pub)

	path := filepath.Join(t.TempDir(), "whitelist.txt")
	require.NoError(t, os.WriteFile(path, []byte(k.String()+"\n"), 0o600))

	w, err := LoadWhitelist(path)
	require.NoError(t, err)
	assert.Equal(t, []PublicKey{k}, w.Keys())

	_, err = LoadWhitelist(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
