// Package core provides the fundamental interfaces and types for Go-native
// contracts run by the mock engine.
package core

import (
	"errors"

	"github.com/govm-net/teebridge/address"
	"github.com/govm-net/teebridge/cursor"
	"github.com/govm-net/teebridge/gas"
	"github.com/govm-net/teebridge/types"
)

// Common errors that can be returned by contracts
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownMessage  = errors.New("unknown message")
	ErrNotFound        = errors.New("not found")
)

// Deps is what a contract may touch during one call.
type Deps struct {
	// Storage is read-only in queries. Use Writer to mutate.
	Storage cursor.Reader
	API     address.Codec
	Querier types.Querier
	Gas     *gas.Meter
}

// Writer returns write access to storage. In a read-only call the error is
// Unauthorized and must be returned unchanged.
func (d Deps) Writer(op string) (cursor.Writer, error) {
	return cursor.AsWriter(d.Storage, op)
}

// Response is what a state-changing entry point produces.
type Response struct {
	Data       []byte
	Attributes []types.Event
}

// Contract is a contract implemented in Go.
type Contract interface {
	Instantiate(deps Deps, env types.Env, info types.MessageInfo, msg []byte) (*Response, error)
	Execute(deps Deps, env types.Env, info types.MessageInfo, msg []byte) (*Response, error)
	Query(deps Deps, env types.Env, msg []byte) ([]byte, error)
	Migrate(deps Deps, env types.Env, msg []byte) (*Response, error)
}
