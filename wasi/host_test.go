package wasi

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSections(t *testing.T) {
	items := [][]byte{[]byte("key"), {}, []byte("a longer value")}
	data := encodeSections(items...)
	assert.Len(t, data, 3+0+14+3*4)

	out, err := decodeSections(data)
	require.NoError(t, err)
	assert.Equal(t, items, out)

	// End of iteration is two empty sections
	out, err = decodeSections(encodeSections(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{}, {}}, out)

	_, err = decodeSections([]byte{1, 2})
	assert.Error(t, err)
	_, err = decodeSections([]byte{0, 0, 0, 9})
	assert.Error(t, err)
}

func TestSecp256k1RoundTrip(t *testing.T) {
	priv := bytes.Repeat([]byte{0x11}, 32)
	msg := []byte("hello enclave")

	sig, code := secp256k1Sign(msg, priv)
	require.Equal(t, uint32(cryptoOK), code)
	require.Len(t, sig, 64)

	hash := sha256.Sum256(msg)
	pub := secp256k1.PrivKeyFromBytes(priv).PubKey()
	assert.Equal(t, uint32(cryptoOK), secp256k1VerifyCode(hash[:], sig, pub.SerializeCompressed()))
	assert.Equal(t, uint32(cryptoOK), secp256k1VerifyCode(hash[:], sig, pub.SerializeUncompressed()))

	tampered := append([]byte(nil), sig...)
	tampered[10] ^= 0x01
	assert.Equal(t, uint32(cryptoInvalidSignature), secp256k1VerifyCode(hash[:], tampered, pub.SerializeCompressed()))

	// One of the two recovery ids yields the signer
	var recovered int
	for id := uint32(0); id < 2; id++ {
		pk, code := secp256k1Recover(hash[:], sig, id)
		if code == cryptoOK && bytes.Equal(pk, pub.SerializeUncompressed()) {
			recovered++
		}
	}
	assert.Equal(t, 1, recovered)
}

func TestSecp256k1Formats(t *testing.T) {
	hash := make([]byte, 32)
	sig := make([]byte, 64)
	pub := secp256k1.PrivKeyFromBytes(bytes.Repeat([]byte{0x22}, 32)).PubKey().SerializeCompressed()

	assert.Equal(t, uint32(cryptoInvalidHashFormat), secp256k1VerifyCode(hash[:31], sig, pub))
	assert.Equal(t, uint32(cryptoInvalidSigFormat), secp256k1VerifyCode(hash, sig[:63], pub))
	assert.Equal(t, uint32(cryptoInvalidPubkey), secp256k1VerifyCode(hash, sig, []byte{0x02, 0x01}))
	assert.Equal(t, uint32(cryptoInvalidSignature), secp256k1VerifyCode(hash, sig, pub))

	_, code := secp256k1Recover(hash, sig, 2)
	assert.Equal(t, uint32(cryptoInvalidRecoveryID), code)
	_, code = secp256k1Sign([]byte("m"), make([]byte, 32))
	assert.Equal(t, uint32(cryptoInvalidPrivateKey), code)
	_, code = secp256k1Sign([]byte("m"), make([]byte, 31))
	assert.Equal(t, uint32(cryptoInvalidPrivateKey), code)
}

func TestBatchShape(t *testing.T) {
	assert.True(t, batchShape(3, 3, 3))
	assert.True(t, batchShape(1, 3, 3))
	assert.True(t, batchShape(3, 3, 1))
	assert.True(t, batchShape(0, 0, 0))
	assert.False(t, batchShape(2, 3, 3))
	assert.False(t, batchShape(3, 3, 2))
	assert.False(t, batchShape(1, maxBatchLength+1, 1))
}

func TestPackResult(t *testing.T) {
	assert.Equal(t, uint64(0x0000_0004_0000_0000), packResult(cryptoInvalidSigFormat, 0))
	assert.Equal(t, uint64(1234), packResult(0, 1234))
}
