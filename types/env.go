package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Checksum is the sha256 of a contract's wasm code and doubles as its code reference.
type Checksum [32]byte

func (c Checksum) String() string {
	return hex.EncodeToString(c[:])
}

func (c Checksum) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Checksum) UnmarshalText(text []byte) error {
	parsed, ok := ChecksumFromString(string(text))
	if !ok {
		return fmt.Errorf("invalid checksum %q", text)
	}
	*c = parsed
	return nil
}

// ChecksumFromString parses a hex checksum, with or without 0x prefix.
func ChecksumFromString(str string) (Checksum, bool) {
	str = strings.TrimPrefix(str, "0x")
	b, err := hex.DecodeString(str)
	if err != nil || len(b) != len(Checksum{}) {
		return Checksum{}, false
	}
	var out Checksum
	copy(out[:], b)
	return out, true
}

// ChecksumFromBytes converts a raw 32-byte reference.
func ChecksumFromBytes(b []byte) (Checksum, bool) {
	if len(b) != len(Checksum{}) {
		return Checksum{}, false
	}
	var out Checksum
	copy(out[:], b)
	return out, true
}

// Env is the environment JSON handed to every entry point.
type Env struct {
	Block       BlockInfo        `json:"block"`
	Transaction *TransactionInfo `json:"transaction,omitempty"`
	Contract    ContractInfo     `json:"contract"`
}

type BlockInfo struct {
	Height  uint64 `json:"height"`
	Time    uint64 `json:"time,string"` // nanoseconds since epoch
	ChainID string `json:"chain_id"`
}

type TransactionInfo struct {
	Index uint32 `json:"index"`
}

type ContractInfo struct {
	Address string `json:"address"`
}

// Coin is a single denomination amount; Amount is a decimal string.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// MessageInfo describes who sent the message.
//
// Signer and Signature are only needed for privileged messages: Signature
// is the ed25519 signature of the raw message bytes by Signer.
type MessageInfo struct {
	Sender    string `json:"sender"`
	Funds     []Coin `json:"funds"`
	Signer    []byte `json:"signer,omitempty"`
	Signature []byte `json:"signature,omitempty"`
}

// Event is one ordered (attribute key, attribute value) pair emitted by a call.
type Event struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AnalysisReport is the result of static inspection of contract code.
type AnalysisReport struct {
	InterfaceVersion     string   `json:"interface_version"`
	EntryPoints          []string `json:"entry_points"`
	HasIBCEntryPoints    bool     `json:"has_ibc_entry_points"`
	RequiredCapabilities []string `json:"required_capabilities"`
}

// HasEntryPoint reports whether the code exports the given entry point.
func (r *AnalysisReport) HasEntryPoint(name string) bool {
	for _, e := range r.EntryPoints {
		if e == name {
			return true
		}
	}
	return false
}
