// Package vm is the call dispatcher of the bridge. It assembles engine calls
// from host input, runs them one at a time against the engine handle and
// reports every failure as a structured *errors.Error.
package vm

import (
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/govm-net/teebridge/cursor"
	"github.com/govm-net/teebridge/engine"
	"github.com/govm-net/teebridge/errors"
	"github.com/govm-net/teebridge/gas"
	"github.com/govm-net/teebridge/metrics"
	"github.com/govm-net/teebridge/repository"
	"github.com/govm-net/teebridge/security"
	"github.com/govm-net/teebridge/types"
)

// State of a Dispatcher.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateDispatching
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDispatching:
		return "dispatching"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Operation names used in errors, logs and metrics.
const (
	OpInstantiate = "instantiate"
	OpExecute     = "execute"
	OpQuery       = "query"
	OpMigrate     = "migrate"
	OpAnalyzeCode = "analyze_code"
	OpStoreCode   = "store_code"
	OpGetCode     = "get_code"
	OpRemoveCode  = "remove_code"
)

// Components are the collaborators a Dispatcher drives.
type Components struct {
	Engine     engine.Engine
	Repository *repository.Manager
	Whitelist  *security.Whitelist
	// Privileged lists top-level execute message names that must pass the
	// signature gate.
	Privileged  []string
	KVGas       gas.KVConfig
	MaxCodeSize uint64
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	// Measurement is the digest of the enclave binary taken at bootstrap.
	Measurement [32]byte
}

// Request is the input of one lifecycle call.
type Request struct {
	Checksum types.Checksum
	Store    types.KVStore
	Querier  types.Querier

	Env  []byte
	Info []byte // message info JSON, unused by Query
	Msg  []byte

	GasLimit uint64

	// Admin and Label are instance metadata recorded by Instantiate.
	// Only Admin may migrate the instance later.
	Admin string
	Label string
}

// Result is the output of a successful lifecycle call.
type Result struct {
	Data   []byte
	Events []types.Event
}

// Dispatcher serializes calls against one engine handle. The zero value is
// uninitialized and rejects every call.
type Dispatcher struct {
	mu    sync.Mutex // held for the whole of one call
	state atomic.Int32
	seq   uint32

	engine      engine.Engine
	repo        *repository.Manager
	gate        *security.Gate
	privileged  map[string]struct{}
	kvGas       gas.KVConfig
	maxCodeSize uint64
	metrics     *metrics.Metrics
	logger      *zap.Logger
	measurement [32]byte
}

// NewDispatcher returns a ready dispatcher.
func NewDispatcher(c Components) (*Dispatcher, error) {
	d := &Dispatcher{}
	if err := d.start(c); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) start(c Components) error {
	if c.Engine == nil {
		return stderrors.New("dispatcher needs an engine")
	}
	if c.Repository == nil {
		return stderrors.New("dispatcher needs a code repository")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.State(); s != StateUninitialized {
		return stderrors.New("dispatcher is " + s.String())
	}

	d.engine = c.Engine
	d.repo = c.Repository
	d.gate = security.NewGate(c.Whitelist)
	d.privileged = make(map[string]struct{}, len(c.Privileged))
	for _, name := range c.Privileged {
		d.privileged[name] = struct{}{}
	}
	d.kvGas = c.KVGas
	if d.kvGas == (gas.KVConfig{}) {
		d.kvGas = gas.DefaultKVConfig()
	}
	d.maxCodeSize = c.MaxCodeSize
	d.metrics = c.Metrics
	d.logger = c.Logger
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.measurement = c.Measurement
	d.state.Store(int32(StateReady))
	return nil
}

// State returns the current state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Gate returns the signature gate built from the bootstrap whitelist.
func (d *Dispatcher) Gate() *security.Gate {
	return d.gate
}

func (d *Dispatcher) Metrics() *metrics.Metrics {
	return d.metrics
}

func (d *Dispatcher) Measurement() [32]byte {
	return d.measurement
}

// Close releases the engine. A closed dispatcher never becomes ready again.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ready := d.State() == StateReady
	d.state.Store(int32(StateClosed))
	if !ready {
		return nil
	}
	return d.engine.Close()
}

// enter takes the call lock. Every successful enter is paired with leave.
func (d *Dispatcher) enter(op string) error {
	d.mu.Lock()
	if s := d.State(); s != StateReady {
		d.mu.Unlock()
		return errors.New(errors.KindEngineFailure).Op(op).
			Detail("dispatcher is %s", s).Build()
	}
	d.state.Store(int32(StateDispatching))
	return nil
}

func (d *Dispatcher) leave() {
	d.state.Store(int32(StateReady))
	d.mu.Unlock()
}

// Instantiate runs the constructor of a new instance at env.contract.address.
func (d *Dispatcher) Instantiate(req Request) (*Result, uint64, error) {
	return d.dispatch(engine.EntryInstantiate, req)
}

// Execute runs the state-mutating entry point. Privileged messages must be
// signed by a whitelisted validator.
func (d *Dispatcher) Execute(req Request) (*Result, uint64, error) {
	return d.dispatch(engine.EntryExecute, req)
}

// Query runs the read-only entry point.
func (d *Dispatcher) Query(req Request) (*Result, uint64, error) {
	return d.dispatch(engine.EntryQuery, req)
}

// Migrate moves an instance to the code req.Checksum. Only the instance
// admin may migrate.
func (d *Dispatcher) Migrate(req Request) (*Result, uint64, error) {
	return d.dispatch(engine.EntryMigrate, req)
}

func (d *Dispatcher) dispatch(entry engine.Entry, req Request) (*Result, uint64, error) {
	op := string(entry)
	start := time.Now()
	if err := d.enter(op); err != nil {
		return nil, 0, err
	}
	defer d.leave()

	meter := gas.NewMeter(req.GasLimit)
	res, err := errors.Capture(op, func() (*Result, error) {
		return d.run(entry, req, meter)
	})

	gasUsed := meter.GasConsumed()
	if err != nil {
		e := errors.WithOp(errors.As(err), op)
		// An engine failing after its meter ran dry ran out of gas.
		if e.Kind == errors.KindEngineFailure && meter.Limit() > 0 && meter.IsOutOfGas() {
			e = errors.New(errors.KindOutOfGas).Op(op).
				Detail("gas limit %d exhausted", meter.Limit()).Cause(e).Build()
		}
		if e.Kind == errors.KindOutOfGas {
			gasUsed = meter.Limit()
		}
		res, err = nil, e
	}
	d.finish(op, req.Checksum, gasUsed, time.Since(start), err)
	return res, gasUsed, err
}

func (d *Dispatcher) run(entry engine.Entry, req Request, meter *gas.Meter) (*Result, error) {
	in, err := decodeInput(entry, req)
	if err != nil {
		return nil, err
	}
	if req.Store == nil {
		return nil, errors.InvalidInput("no store for the call")
	}
	addr := in.env.Contract.Address

	switch entry {
	case engine.EntryInstantiate:
		if err := d.checkNewInstance(addr); err != nil {
			return nil, err
		}
	case engine.EntryExecute:
		if err := d.checkPrivileged(req.Msg, in.info); err != nil {
			return nil, err
		}
		if err := d.checkInstanceCode(addr, req.Checksum); err != nil {
			return nil, err
		}
	case engine.EntryQuery:
		if err := d.checkInstanceCode(addr, req.Checksum); err != nil {
			return nil, err
		}
	case engine.EntryMigrate:
		if err := d.checkMigrate(addr, in.info.Sender); err != nil {
			return nil, err
		}
	}

	code, err := d.repo.GetCode(req.Checksum)
	if err != nil {
		return nil, errors.EngineFailure(err, "load code %s", req.Checksum)
	}

	d.seq++
	id := d.seq
	bridge := cursor.NewBridge(id, req.Store, meter, d.kvGas)
	defer func() {
		if n := bridge.OpenIterators(); n > 0 {
			d.logger.Debug("call left iterators open", zap.Uint32("call", id), zap.Int("iterators", n))
		}
		if err := bridge.Close(); err != nil {
			d.logger.Warn("failed to close iterators", zap.Uint32("call", id), zap.Error(err))
		}
	}()

	var store cursor.Reader = bridge
	if entry == engine.EntryQuery {
		store = bridge.ReadOnly()
	}
	call := &engine.Call{
		ID:          id,
		Checksum:    req.Checksum,
		Code:        code.Code,
		Env:         req.Env,
		Msg:         req.Msg,
		Environment: in.env,
		Store:       store,
		Gas:         meter,
		Querier:     req.Querier,
		Logger:      d.logger.With(zap.Uint32("call", id), zap.String("op", string(entry))),
	}
	if in.info != nil {
		call.MessageInfo = in.info
		if entry != engine.EntryMigrate {
			call.Info = req.Info
		}
	}

	resp, err := d.invoke(entry, call)
	if err != nil {
		return nil, err
	}

	switch entry {
	case engine.EntryInstantiate:
		inst := repository.Instance{
			Address:      addr,
			CodeChecksum: req.Checksum,
			Admin:        req.Admin,
			Label:        req.Label,
		}
		if err := d.repo.SaveInstance(inst); err != nil {
			return nil, errors.EngineFailure(err, "record instance %s", addr)
		}
	case engine.EntryMigrate:
		if err := d.repo.UpdateInstanceCode(addr, req.Checksum); err != nil {
			return nil, errors.EngineFailure(err, "update instance %s", addr)
		}
	}
	return &Result{Data: resp.Data, Events: resp.Events}, nil
}

func (d *Dispatcher) invoke(entry engine.Entry, call *engine.Call) (*engine.Response, error) {
	switch entry {
	case engine.EntryInstantiate:
		return d.engine.Instantiate(call)
	case engine.EntryExecute:
		return d.engine.Execute(call)
	case engine.EntryQuery:
		return d.engine.Query(call)
	case engine.EntryMigrate:
		return d.engine.Migrate(call)
	}
	return nil, errors.New(errors.KindInternalPanic).Detail("unknown entry point %q", entry).Build()
}

type input struct {
	env  types.Env
	info *types.MessageInfo
}

func decodeInput(entry engine.Entry, req Request) (*input, error) {
	in := &input{}
	if err := decodeJSON("env", req.Env, &in.env); err != nil {
		return nil, err
	}
	if entry != engine.EntryQuery {
		in.info = &types.MessageInfo{}
		if err := decodeJSON("message info", req.Info, in.info); err != nil {
			return nil, err
		}
	}
	if err := checkJSON("message", req.Msg); err != nil {
		return nil, err
	}
	return in, nil
}

func checkJSON(what string, data []byte) error {
	if len(data) == 0 {
		return errors.InvalidInput("%s is empty", what)
	}
	if !utf8.Valid(data) {
		return errors.InvalidInput("%s is not valid UTF-8", what)
	}
	if !json.Valid(data) {
		return errors.InvalidInput("%s is not valid JSON", what)
	}
	return nil
}

func decodeJSON(what string, data []byte, v any) error {
	if err := checkJSON(what, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New(errors.KindInvalidInput).Detail("decode %s", what).Cause(err).Build()
	}
	return nil
}

func (d *Dispatcher) checkNewInstance(addr string) error {
	if addr == "" {
		return errors.InvalidInput("env.contract.address is empty")
	}
	_, err := d.repo.Instance(addr)
	switch {
	case err == nil:
		return errors.InvalidInput("instance %s already exists", addr)
	case stderrors.Is(err, repository.ErrInstanceNotFound):
		return nil
	case stderrors.Is(err, repository.ErrInvalidAddress):
		return errors.New(errors.KindInvalidInput).Cause(err).Build()
	default:
		return errors.EngineFailure(err, "read instance %s", addr)
	}
}

// checkInstanceCode rejects calls that name a different code than the one
// the instance runs. Instances the repository does not know are accepted.
func (d *Dispatcher) checkInstanceCode(addr string, checksum types.Checksum) error {
	if addr == "" {
		return nil
	}
	inst, err := d.repo.Instance(addr)
	switch {
	case err == nil:
		if inst.CodeChecksum != checksum {
			return errors.InvalidInput("instance %s runs code %s, not %s", addr, inst.CodeChecksum, checksum)
		}
		return nil
	case stderrors.Is(err, repository.ErrInstanceNotFound):
		return nil
	case stderrors.Is(err, repository.ErrInvalidAddress):
		return errors.New(errors.KindInvalidInput).Cause(err).Build()
	default:
		return errors.EngineFailure(err, "read instance %s", addr)
	}
}

func (d *Dispatcher) checkMigrate(addr, sender string) error {
	ok, err := d.repo.CanMigrate(addr, sender)
	switch {
	case err == nil && ok:
		return nil
	case err == nil:
		return errors.Unauthorized("%q is not the admin of %s", sender, addr)
	case stderrors.Is(err, repository.ErrInstanceNotFound):
		return errors.Unauthorized("no instance metadata for %q", addr)
	case stderrors.Is(err, repository.ErrInvalidAddress):
		return errors.New(errors.KindInvalidInput).Cause(err).Build()
	default:
		return errors.EngineFailure(err, "read instance %s", addr)
	}
}

// checkPrivileged runs the signature gate when any top-level key of msg is a
// privileged message name. It never touches the engine.
func (d *Dispatcher) checkPrivileged(msg []byte, info *types.MessageInfo) error {
	if len(d.privileged) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return nil
	}
	for name := range fields {
		if _, ok := d.privileged[name]; !ok {
			continue
		}
		if err := d.gate.Check(msg, info.Signature, info.Signer); err != nil {
			d.logger.Warn("privileged message rejected", zap.String("message", name), zap.Error(err))
			return err
		}
		return nil
	}
	return nil
}

func (d *Dispatcher) finish(op string, checksum types.Checksum, gasUsed uint64, took time.Duration, err error) {
	d.metrics.Observe(op, gasUsed, took, err)

	fields := []zap.Field{
		zap.String("op", op),
		zap.Stringer("code", checksum),
		zap.Uint64("gas_used", gasUsed),
		zap.Duration("took", took),
	}
	if err == nil {
		d.logger.Debug("call finished", fields...)
		return
	}
	e := errors.As(err)
	fields = append(fields, zap.Stringer("kind", e.Kind), zap.Error(err))
	if e.Kind == errors.KindInternalPanic {
		d.logger.Error("call panicked", append(fields, zap.String("backtrace", e.Backtrace))...)
		return
	}
	d.logger.Info("call failed", fields...)
}
