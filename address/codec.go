// Package address converts between human-readable bech32 contract
// addresses and their canonical byte form.
package address

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// DefaultPrefix is the human-readable part used when none is configured.
const DefaultPrefix = "secret"

// Codec is bound to one human-readable prefix.
type Codec struct {
	prefix string
}

func NewCodec(prefix string) Codec {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Codec{prefix: prefix}
}

func (c Codec) Prefix() string {
	return c.prefix
}

// Canonicalize decodes a bech32 address of this codec's prefix.
func (c Codec) Canonicalize(human string) ([]byte, error) {
	if human == "" {
		return nil, fmt.Errorf("empty address")
	}
	hrp, data, err := bech32.DecodeToBase256(human)
	if err != nil {
		return nil, fmt.Errorf("invalid bech32 address: %w", err)
	}
	if hrp != c.prefix {
		return nil, fmt.Errorf("wrong address prefix %q, expected %q", hrp, c.prefix)
	}
	if err := checkLength(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Humanize encodes canonical bytes with this codec's prefix.
func (c Codec) Humanize(canonical []byte) (string, error) {
	if err := checkLength(canonical); err != nil {
		return "", err
	}
	human, err := bech32.EncodeFromBase256(c.prefix, canonical)
	if err != nil {
		return "", fmt.Errorf("encode bech32 address: %w", err)
	}
	return human, nil
}

// Validate accepts only addresses in normalized form: canonicalizing and
// humanizing again must give back the input.
func (c Codec) Validate(human string) error {
	canonical, err := c.Canonicalize(human)
	if err != nil {
		return err
	}
	normalized, err := c.Humanize(canonical)
	if err != nil {
		return err
	}
	if normalized != human {
		return fmt.Errorf("address not normalized, expected %s", normalized)
	}
	return nil
}

func checkLength(canonical []byte) error {
	switch len(canonical) {
	case 20, 32:
		return nil
	default:
		return fmt.Errorf("invalid canonical address length %d", len(canonical))
	}
}
