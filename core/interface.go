package core

import (
	"encoding/json"
	"fmt"
)

// MessageName returns the single top-level key of a message such as
// {"increment":{}}, together with its body.
func MessageName(msg []byte) (string, json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return "", nil, fmt.Errorf("%w: message is not a JSON object: %v", ErrInvalidArgument, err)
	}
	if len(fields) != 1 {
		return "", nil, fmt.Errorf("%w: message must have exactly one top-level key, got %d", ErrInvalidArgument, len(fields))
	}
	for name, body := range fields {
		return name, body, nil
	}
	return "", nil, nil
}

// Attr builds a response attribute.
func Attr(key, value string) Event {
	return Event{Key: key, Value: value}
}
