// Package security 提供特权交易的签名验证与验证人白名单
package security

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cloudflare/circl/sign/ed25519"
)

// PublicKey is a raw ed25519 public key.
type PublicKey [ed25519.PublicKeySize]byte

func (k PublicKey) String() string {
	return "ed25519:" + base64.StdEncoding.EncodeToString(k[:])
}

// ParsePublicKey accepts "ed25519:<base64>" or a bare 64 character hex string.
func ParsePublicKey(s string) (PublicKey, error) {
	var raw []byte
	var err error

	if alg, enc, ok := strings.Cut(s, ":"); ok {
		if alg != "ed25519" {
			return PublicKey{}, fmt.Errorf("unsupported key algorithm %q", alg)
		}
		raw, err = base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return PublicKey{}, fmt.Errorf("invalid key base64: %w", err)
		}
	} else {
		raw, err = hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return PublicKey{}, fmt.Errorf("invalid key hex: %w", err)
		}
	}

	return PublicKeyFromBytes(raw)
}

// PublicKeyFromBytes checks the length of a raw key.
func PublicKeyFromBytes(raw []byte) (PublicKey, error) {
	var k PublicKey
	if len(raw) != len(k) {
		return k, fmt.Errorf("invalid ed25519 public key length %d", len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// Whitelist is the fixed set of validator keys allowed to submit privileged
// messages. It has no mutators; membership changes need a restart.
type Whitelist struct {
	keys map[PublicKey]struct{}
}

// NewWhitelist copies keys into a new immutable set.
func NewWhitelist(keys ...PublicKey) *Whitelist {
	w := &Whitelist{keys: make(map[PublicKey]struct{}, len(keys))}
	for _, k := range keys {
		w.keys[k] = struct{}{}
	}
	return w
}

// Contains reports whether raw is a member. Keys of the wrong length are never members.
func (w *Whitelist) Contains(raw []byte) bool {
	if w == nil {
		return false
	}
	k, err := PublicKeyFromBytes(raw)
	if err != nil {
		return false
	}
	_, ok := w.keys[k]
	return ok
}

func (w *Whitelist) Len() int {
	if w == nil {
		return 0
	}
	return len(w.keys)
}

// Keys returns the members in byte order.
func (w *Whitelist) Keys() []PublicKey {
	if w == nil {
		return nil
	}
	out := make([]PublicKey, 0, len(w.keys))
	for k := range w.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(string(out[i][:]), string(out[j][:])) < 0
	})
	return out
}

// ReadWhitelist parses one key per line. Blank lines and lines starting
// with # are ignored; duplicates collapse.
func ReadWhitelist(r io.Reader) (*Whitelist, error) {
	var keys []PublicKey

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		k, err := ParsePublicKey(text)
		if err != nil {
			return nil, fmt.Errorf("whitelist line %d: %w", line, err)
		}
		keys = append(keys, k)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read whitelist: %w", err)
	}

	return NewWhitelist(keys...), nil
}

// LoadWhitelist reads the whitelist file at path.
func LoadWhitelist(path string) (*Whitelist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open whitelist: %w", err)
	}
	defer f.Close()

	return ReadWhitelist(f)
}
