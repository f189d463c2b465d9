package core

import (
	"encoding/json"
	"fmt"

	"github.com/govm-net/teebridge/types"
)

// Event is a response attribute.
type Event = types.Event

// LoadJSON decodes the value stored under key into v. It reports false for
// a missing key.
func LoadJSON(d Deps, key string, v any) (bool, error) {
	raw, err := d.Storage.Get([]byte(key))
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes v under key. op names the operation for the Unauthorized
// error raised in a read-only call.
func SaveJSON(d Deps, op, key string, v any) error {
	w, err := d.Writer(op)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return w.Set([]byte(key), raw)
}
