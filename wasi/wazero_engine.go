package wasi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/govm-net/teebridge/address"
	"github.com/govm-net/teebridge/engine"
	"github.com/govm-net/teebridge/errors"
	"github.com/govm-net/teebridge/gas"
	"github.com/govm-net/teebridge/types"
)

// compiledContract is a module ready to be instantiated.
type compiledContract struct {
	module wazero.CompiledModule
	report *types.AnalysisReport
}

// WazeroVM runs CosmWasm-style contracts on wazero.
type WazeroVM struct {
	cfg    Config
	codec  address.Codec
	logger *zap.Logger

	ctx     context.Context
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	env     api.Module

	// checksum -> *compiledContract
	contracts sync.Map
}

var _ engine.Engine = (*WazeroVM)(nil)

// NewWazeroVM creates the runtime and its env host module.
func NewWazeroVM(cfg Config, logger *zap.Logger) (*WazeroVM, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = MemoryLimitPages
	}

	ctx := context.Background()
	rc := wazero.NewRuntimeConfig().WithMemoryLimitPages(cfg.MemoryLimitPages)

	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		c, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache: %w", err)
		}
		cache = c
		rc = rc.WithCompilationCache(cache)
	}

	vm := &WazeroVM{
		cfg:     cfg,
		codec:   address.NewCodec(cfg.Bech32Prefix),
		logger:  logger.Named("wazero"),
		ctx:     ctx,
		runtime: wazero.NewRuntimeWithConfig(ctx, rc),
		cache:   cache,
	}
	env, err := vm.buildEnv(ctx)
	if err != nil {
		vm.runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate env module: %w", err)
	}
	vm.env = env
	return vm, nil
}

func (vm *WazeroVM) Name() string {
	return "wazero"
}

// Analyze validates code statically and checks that it compiles.
func (vm *WazeroVM) Analyze(code []byte) (*types.AnalysisReport, error) {
	report, err := Analyze(code, vm.cfg.SupportedCapabilities)
	if err != nil {
		return nil, err
	}
	compiled, err := vm.runtime.CompileModule(vm.ctx, code)
	if err != nil {
		return nil, staticErr("Wasm bytecode could not be compiled: %v", err)
	}
	compiled.Close(vm.ctx)
	return report, nil
}

// Prepare analyzes and compiles code, caching the result under checksum.
func (vm *WazeroVM) Prepare(checksum types.Checksum, code []byte) error {
	if _, ok := vm.contracts.Load(checksum); ok {
		return nil
	}
	report, err := Analyze(code, vm.cfg.SupportedCapabilities)
	if err != nil {
		return err
	}
	compiled, err := vm.runtime.CompileModule(vm.ctx, code)
	if err != nil {
		return staticErr("Wasm bytecode could not be compiled: %v", err)
	}
	if _, loaded := vm.contracts.LoadOrStore(checksum, &compiledContract{module: compiled, report: report}); loaded {
		compiled.Close(vm.ctx)
	}
	vm.logger.Debug("compiled contract",
		zap.Stringer("checksum", checksum),
		zap.String("interface", report.InterfaceVersion))
	return nil
}

func (vm *WazeroVM) Forget(checksum types.Checksum) {
	if v, ok := vm.contracts.LoadAndDelete(checksum); ok {
		v.(*compiledContract).module.Close(vm.ctx)
	}
}

func (vm *WazeroVM) Instantiate(call *engine.Call) (*engine.Response, error) {
	return vm.run(call, engine.EntryInstantiate)
}

func (vm *WazeroVM) Execute(call *engine.Call) (*engine.Response, error) {
	return vm.run(call, engine.EntryExecute)
}

func (vm *WazeroVM) Query(call *engine.Call) (*engine.Response, error) {
	return vm.run(call, engine.EntryQuery)
}

func (vm *WazeroVM) Migrate(call *engine.Call) (*engine.Response, error) {
	return vm.run(call, engine.EntryMigrate)
}

func (vm *WazeroVM) Close() error {
	vm.contracts.Range(func(k, v any) bool {
		vm.contracts.Delete(k)
		v.(*compiledContract).module.Close(vm.ctx)
		return true
	})
	err := vm.runtime.Close(vm.ctx)
	if vm.cache != nil {
		if cerr := vm.cache.Close(vm.ctx); err == nil {
			err = cerr
		}
	}
	return err
}

func (vm *WazeroVM) load(call *engine.Call) (*compiledContract, error) {
	if v, ok := vm.contracts.Load(call.Checksum); ok {
		return v.(*compiledContract), nil
	}
	if len(call.Code) == 0 {
		return nil, errors.EngineFailure(nil, "code %s is not prepared", call.Checksum)
	}
	if err := vm.Prepare(call.Checksum, call.Code); err != nil {
		return nil, errors.EngineFailure(err, "invalid code %s: %s", call.Checksum, errors.As(err).Message())
	}
	v, _ := vm.contracts.Load(call.Checksum)
	return v.(*compiledContract), nil
}

// run instantiates a fresh module for the call, invokes the entry point and
// decodes its result.
func (vm *WazeroVM) run(call *engine.Call, entry engine.Entry) (*engine.Response, error) {
	contract, err := vm.load(call)
	if err != nil {
		return nil, err
	}
	if e := call.Gas.TryConsumeGas(vm.cfg.Gas.CallBase, "call_base"); e != nil {
		return nil, e
	}

	name, args, err := entryArgs(contract.report.InterfaceVersion, entry, call)
	if err != nil {
		return nil, err
	}

	st := &callState{call: call, cfg: &vm.cfg, gas: vm.cfg.Gas}
	ctx := withCallState(vm.ctx, st)

	mc := wazero.NewModuleConfig().
		WithName(fmt.Sprintf("contract-%d", call.ID)).
		WithStartFunctions()
	instance, err := vm.runtime.InstantiateModule(ctx, contract.module, mc)
	if err != nil {
		return nil, vm.failure(st, err, "instantiate module")
	}
	defer instance.Close(ctx)

	fn := instance.ExportedFunction(name)
	if fn == nil {
		return nil, errors.EngineFailure(nil, "entry point %q is not exported", name)
	}

	params := make([]uint64, 0, len(args))
	for _, arg := range args {
		if e := call.Gas.TryConsumeGas(gas.Mul(vm.cfg.Gas.PerByte, uint64(len(arg))), "copy_in"); e != nil {
			return nil, e
		}
		ptr, err := allocateRegion(ctx, instance, arg)
		if err != nil {
			return nil, vm.failure(st, err, "pass arguments")
		}
		params = append(params, uint64(ptr))
	}

	res, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, vm.failure(st, err, "%s trapped", name)
	}
	if len(res) != 1 {
		return nil, errors.EngineFailure(nil, "%s returned %d values", name, len(res))
	}

	resultPtr := uint32(res[0])
	out, err := readRegionData(instance.Memory(), resultPtr, maxResultLength)
	if err != nil {
		return nil, errors.EngineFailure(err, "read result of %s", name)
	}
	if e := call.Gas.TryConsumeGas(gas.Mul(vm.cfg.Gas.PerByte, uint64(len(out))), "copy_out"); e != nil {
		return nil, e
	}
	if err := deallocateRegion(ctx, instance, resultPtr); err != nil {
		return nil, vm.failure(st, err, "free result")
	}

	if entry == engine.EntryQuery {
		return parseQueryResult(out)
	}
	return parseResponse(out)
}

// failure prefers the error recorded by a host function over the trap
// wazero reports for it.
func (vm *WazeroVM) failure(st *callState, err error, format string, args ...any) *errors.Error {
	if st.trap != nil {
		return st.trap
	}
	vm.logger.Debug("contract trapped", zap.Uint32("call", st.call.ID), zap.Error(err))
	return errors.EngineFailure(err, format+": %v", append(args, err)...)
}

// entryArgs maps an entry point to the export name and arguments of the
// contract's interface version.
func entryArgs(version string, entry engine.Entry, call *engine.Call) (string, [][]byte, error) {
	if version != InterfaceV010 {
		switch entry {
		case engine.EntryInstantiate, engine.EntryExecute:
			return string(entry), [][]byte{call.Env, call.Info, call.Msg}, nil
		default:
			return string(entry), [][]byte{call.Env, call.Msg}, nil
		}
	}

	switch entry {
	case engine.EntryQuery:
		return "query", [][]byte{call.Msg}, nil
	case engine.EntryInstantiate, engine.EntryExecute, engine.EntryMigrate:
		env, err := legacyEnv(call)
		if err != nil {
			return "", nil, err
		}
		name := map[engine.Entry]string{
			engine.EntryInstantiate: "init",
			engine.EntryExecute:     "handle",
			engine.EntryMigrate:     "migrate",
		}[entry]
		return name, [][]byte{env, call.Msg}, nil
	}
	return "", nil, errors.EngineFailure(nil, "unknown entry point %q", entry)
}

type legacyBlock struct {
	Height  uint64 `json:"height"`
	Time    uint64 `json:"time"`
	ChainID string `json:"chain_id"`
}

type legacyMessage struct {
	Sender    string       `json:"sender"`
	SentFunds []types.Coin `json:"sent_funds"`
}

type legacyEnvironment struct {
	Block    legacyBlock        `json:"block"`
	Message  legacyMessage      `json:"message"`
	Contract types.ContractInfo `json:"contract"`
}

// legacyEnv folds message info into the env document v0.10 contracts expect.
// Their block time is in seconds.
func legacyEnv(call *engine.Call) ([]byte, error) {
	env := legacyEnvironment{
		Block: legacyBlock{
			Height:  call.Environment.Block.Height,
			Time:    call.Environment.Block.Time / 1_000_000_000,
			ChainID: call.Environment.Block.ChainID,
		},
		Contract: call.Environment.Contract,
		Message:  legacyMessage{SentFunds: []types.Coin{}},
	}
	if call.MessageInfo != nil {
		env.Message.Sender = call.MessageInfo.Sender
		if call.MessageInfo.Funds != nil {
			env.Message.SentFunds = call.MessageInfo.Funds
		}
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, errors.EngineFailure(err, "encode legacy env")
	}
	return out, nil
}

// contractResult is the envelope every entry point returns. v0.10
// contracts spell the variants Ok and Err.
type contractResult struct {
	Ok      json.RawMessage `json:"ok,omitempty"`
	Err     *string         `json:"error,omitempty"`
	ErrV010 *string         `json:"Err,omitempty"`
}

func (r *contractResult) failure() *string {
	if r.Err != nil {
		return r.Err
	}
	return r.ErrV010
}

type attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type contractEvent struct {
	Type       string      `json:"type"`
	Attributes []attribute `json:"attributes"`
}

type contractResponse struct {
	Data       []byte          `json:"data"`
	Attributes []attribute     `json:"attributes"`
	Log        []attribute     `json:"log"`
	Events     []contractEvent `json:"events"`
}

func decodeResult(out []byte) (json.RawMessage, error) {
	var res contractResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, errors.EngineFailure(err, "contract result is not valid JSON")
	}
	if msg := res.failure(); msg != nil {
		return nil, errors.EngineFailure(nil, "contract error: %s", *msg)
	}
	if res.Ok == nil {
		return nil, errors.EngineFailure(nil, "contract result has neither ok nor error")
	}
	return res.Ok, nil
}

// parseResponse flattens attributes and events into ordered pairs. Event
// attributes are keyed "<type>.<key>".
func parseResponse(out []byte) (*engine.Response, error) {
	ok, err := decodeResult(out)
	if err != nil {
		return nil, err
	}
	var res contractResponse
	if err := json.Unmarshal(ok, &res); err != nil {
		return nil, errors.EngineFailure(err, "contract response is malformed")
	}

	resp := &engine.Response{Data: res.Data}
	for _, a := range append(res.Log, res.Attributes...) {
		resp.Events = append(resp.Events, types.Event{Key: a.Key, Value: a.Value})
	}
	for _, ev := range res.Events {
		for _, a := range ev.Attributes {
			resp.Events = append(resp.Events, types.Event{Key: ev.Type + "." + a.Key, Value: a.Value})
		}
	}
	return resp, nil
}

// parseQueryResult expects the ok variant to be base64 data.
func parseQueryResult(out []byte) (*engine.Response, error) {
	ok, err := decodeResult(out)
	if err != nil {
		return nil, err
	}
	var data []byte
	if err := json.Unmarshal(ok, &data); err != nil {
		return nil, errors.EngineFailure(err, "query result is not base64 data")
	}
	return &engine.Response{Data: data}, nil
}
