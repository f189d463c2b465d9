// Package mock runs Go-native contracts behind the engine interface, for
// tests and for hosts that do not need wasm.
package mock

import (
	"crypto/sha256"
	"sync"

	"go.uber.org/zap"

	"github.com/govm-net/teebridge/address"
	"github.com/govm-net/teebridge/core"
	"github.com/govm-net/teebridge/engine"
	"github.com/govm-net/teebridge/errors"
	"github.com/govm-net/teebridge/types"
)

// InterfaceNative is the interface version reported for native contracts.
const InterfaceNative = "native"

var entryPoints = []string{"instantiate", "execute", "query", "migrate"}

// Engine dispatches to contracts registered by their code bytes.
type Engine struct {
	mu        sync.RWMutex
	contracts map[types.Checksum]core.Contract
	prepared  map[types.Checksum]bool

	gas    GasConfig
	codec  address.Codec
	logger *zap.Logger
}

var _ engine.Engine = (*Engine)(nil)

func NewEngine(cfg GasConfig, codec address.Codec, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		contracts: make(map[types.Checksum]core.Contract),
		prepared:  make(map[types.Checksum]bool),
		gas:       cfg,
		codec:     codec,
		logger:    logger.Named("mock"),
	}
}

// Register binds a contract to code. Storing the same bytes through the
// dispatcher then yields a checksum this engine can run.
func (e *Engine) Register(code []byte, c core.Contract) types.Checksum {
	checksum := types.Checksum(sha256.Sum256(code))
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contracts[checksum] = c
	return checksum
}

func (e *Engine) Name() string {
	return "mock"
}

func (e *Engine) Analyze(code []byte) (*types.AnalysisReport, error) {
	checksum := types.Checksum(sha256.Sum256(code))
	if _, ok := e.contract(checksum); !ok {
		return nil, errors.New(errors.KindInvalidInput).Op("analyze_code").
			Detail("code %s is not a registered native contract", checksum).Build()
	}
	return &types.AnalysisReport{
		InterfaceVersion:     InterfaceNative,
		EntryPoints:          append([]string(nil), entryPoints...),
		RequiredCapabilities: []string{},
	}, nil
}

func (e *Engine) Prepare(checksum types.Checksum, code []byte) error {
	if types.Checksum(sha256.Sum256(code)) != checksum {
		return errors.InvalidInput("checksum does not match code")
	}
	if _, ok := e.contract(checksum); !ok {
		return errors.InvalidInput("code %s is not a registered native contract", checksum)
	}
	e.mu.Lock()
	e.prepared[checksum] = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) Forget(checksum types.Checksum) {
	e.mu.Lock()
	delete(e.prepared, checksum)
	e.mu.Unlock()
}

func (e *Engine) Instantiate(call *engine.Call) (*engine.Response, error) {
	c, deps, err := e.enter(call)
	if err != nil {
		return nil, err
	}
	resp, err := c.Instantiate(deps, call.Environment, messageInfo(call), call.Msg)
	return e.response(call, resp, err)
}

func (e *Engine) Execute(call *engine.Call) (*engine.Response, error) {
	c, deps, err := e.enter(call)
	if err != nil {
		return nil, err
	}
	resp, err := c.Execute(deps, call.Environment, messageInfo(call), call.Msg)
	return e.response(call, resp, err)
}

func (e *Engine) Query(call *engine.Call) (*engine.Response, error) {
	c, deps, err := e.enter(call)
	if err != nil {
		return nil, err
	}
	data, err := c.Query(deps, call.Environment, call.Msg)
	if err != nil {
		return nil, contractErr(err)
	}
	return &engine.Response{Data: data}, nil
}

func (e *Engine) Migrate(call *engine.Call) (*engine.Response, error) {
	c, deps, err := e.enter(call)
	if err != nil {
		return nil, err
	}
	resp, err := c.Migrate(deps, call.Environment, call.Msg)
	return e.response(call, resp, err)
}

func (e *Engine) Close() error {
	return nil
}

func (e *Engine) contract(checksum types.Checksum) (core.Contract, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.contracts[checksum]
	return c, ok
}

func (e *Engine) enter(call *engine.Call) (core.Contract, core.Deps, error) {
	c, ok := e.contract(call.Checksum)
	if !ok {
		return nil, core.Deps{}, errors.EngineFailure(nil, "no native contract for code %s", call.Checksum)
	}
	e.gas.ConsumeCall(call.Gas, len(call.Msg))

	deps := core.Deps{
		Storage: call.Store,
		API:     e.codec,
		Querier: call.Querier,
		Gas:     call.Gas,
	}
	return c, deps, nil
}

func (e *Engine) response(call *engine.Call, resp *core.Response, err error) (*engine.Response, error) {
	if err != nil {
		e.logger.Debug("contract returned error", zap.Uint32("call", call.ID), zap.Error(err))
		return nil, contractErr(err)
	}
	if resp == nil {
		return &engine.Response{}, nil
	}
	return &engine.Response{Data: resp.Data, Events: resp.Attributes}, nil
}

// contractErr keeps structured errors such as Unauthorized and reports
// anything else as an engine failure.
func contractErr(err error) error {
	e := errors.As(err)
	if e.Kind == errors.KindEngineFailure && e.Op == "" {
		return errors.EngineFailure(err, "contract error: %v", err)
	}
	return e
}

func messageInfo(call *engine.Call) types.MessageInfo {
	if call.MessageInfo == nil {
		return types.MessageInfo{}
	}
	return *call.MessageInfo
}
