// Package engine defines the contract between the dispatcher and an
// execution engine. The wasi package binds wazero behind it; the mock
// package runs Go-native contracts for testing.
package engine

import (
	"go.uber.org/zap"

	"github.com/govm-net/teebridge/cursor"
	"github.com/govm-net/teebridge/gas"
	"github.com/govm-net/teebridge/types"
)

// Entry names one contract entry point.
type Entry string

const (
	EntryInstantiate Entry = "instantiate"
	EntryExecute     Entry = "execute"
	EntryQuery       Entry = "query"
	EntryMigrate     Entry = "migrate"
)

// Call carries everything an engine needs for one entry point invocation.
// It is built by the dispatcher and lives exactly as long as the call.
type Call struct {
	ID       uint32
	Checksum types.Checksum
	Code     []byte

	// Env, Info and Msg are the raw JSON documents. Info is nil for
	// entry points that take no message info.
	Env  []byte
	Info []byte
	Msg  []byte

	Environment types.Env
	MessageInfo *types.MessageInfo

	// Store is read-only for queries. Engines obtain write access with
	// cursor.AsWriter and must surface its error unchanged.
	Store   cursor.Reader
	Gas     *gas.Meter
	Querier types.Querier
	Logger  *zap.Logger
}

// Response is what a successful entry point produced.
type Response struct {
	Data   []byte
	Events []types.Event
}

// Engine runs contract code. Implementations need not be safe for
// concurrent use; the dispatcher serializes every call.
//
// Errors must be *errors.Error values. Panics are permitted for typed
// aborts such as running out of gas; the dispatcher captures them.
type Engine interface {
	// Name identifies the engine in logs and metrics.
	Name() string

	// Analyze inspects code statically. It runs nothing and consumes no gas.
	Analyze(code []byte) (*types.AnalysisReport, error)

	// Prepare readies code for execution, for example by compiling it.
	Prepare(checksum types.Checksum, code []byte) error

	// Forget drops anything Prepare cached for checksum.
	Forget(checksum types.Checksum)

	Instantiate(call *Call) (*Response, error)
	Execute(call *Call) (*Response, error)
	Query(call *Call) (*Response, error)
	Migrate(call *Call) (*Response, error)

	Close() error
}
