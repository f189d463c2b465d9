package security

import (
	"github.com/cloudflare/circl/sign/ed25519"

	"github.com/govm-net/teebridge/errors"
)

// Gate guards privileged operations: the signer must be whitelisted and
// must have signed the message.
type Gate struct {
	whitelist *Whitelist
}

// NewGate 创建签名验证门
func NewGate(w *Whitelist) *Gate {
	if w == nil {
		w = NewWhitelist()
	}
	return &Gate{whitelist: w}
}

func (g *Gate) Whitelist() *Whitelist {
	return g.whitelist
}

// Verify checks an ed25519 signature. Malformed keys or signatures fail.
func (g *Gate) Verify(message, signature, pubkey []byte) bool {
	return Verify(message, signature, pubkey)
}

// Authorize reports whitelist membership of pubkey.
func (g *Gate) Authorize(pubkey []byte) bool {
	return g.whitelist.Contains(pubkey)
}

// Check authorizes signer and then verifies its signature over message.
func (g *Gate) Check(message, signature, signer []byte) *errors.Error {
	if !g.Authorize(signer) {
		return errors.New(errors.KindUnauthorized).
			Op("signature_gate").
			Detail("signer is not a whitelisted validator").
			Build()
	}
	if !g.Verify(message, signature, signer) {
		return errors.New(errors.KindSignatureInvalid).
			Op("signature_gate").
			Detail("signature does not verify for signer").
			Build()
	}
	return nil
}

// Verify checks an ed25519 signature over message by pubkey.
func Verify(message, signature, pubkey []byte) bool {
	if len(pubkey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubkey), message, signature)
}

// BatchVerify verifies several signatures at once. The three slices must
// have equal length, except that a single message may be checked against
// many signers and a single signer may sign many messages. An empty batch
// verifies.
func BatchVerify(messages, signatures, pubkeys [][]byte) bool {
	n := len(signatures)
	switch {
	case len(messages) == n && len(pubkeys) == n:
	case len(messages) == 1 && len(pubkeys) == n:
	case len(pubkeys) == 1 && len(messages) == n:
	default:
		return false
	}

	for i := 0; i < n; i++ {
		msg := messages[0]
		if len(messages) > 1 {
			msg = messages[i]
		}
		pk := pubkeys[0]
		if len(pubkeys) > 1 {
			pk = pubkeys[i]
		}
		if !Verify(msg, signatures[i], pk) {
			return false
		}
	}
	return true
}

// Sign signs message with a 32-byte seed.
func Sign(message, seed []byte) ([]byte, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.InvalidInput("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.Sign(ed25519.NewKeyFromSeed(seed), message), nil
}

// PublicKeyFromSeed derives the public key of a 32-byte seed.
func PublicKeyFromSeed(seed []byte) (PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return PublicKey{}, errors.InvalidInput("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return PublicKeyFromBytes(priv.Public().(ed25519.PublicKey))
}
