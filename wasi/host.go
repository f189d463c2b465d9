package wasi

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/govm-net/teebridge/cursor"
	"github.com/govm-net/teebridge/engine"
	"github.com/govm-net/teebridge/errors"
	"github.com/govm-net/teebridge/gas"
	"github.com/govm-net/teebridge/security"
	"github.com/govm-net/teebridge/types"
)

// Result codes of the crypto host functions.
const (
	cryptoOK                  = 0
	cryptoInvalidSignature    = 1
	cryptoInvalidHashFormat   = 3
	cryptoInvalidSigFormat    = 4
	cryptoInvalidPubkey       = 5
	cryptoInvalidRecoveryID   = 6
	cryptoInvalidPrivateKey   = 7
	cryptoBatchLengthMismatch = 8
)

type callStateKey struct{}

// callState is what host functions see of the running call.
type callState struct {
	call *engine.Call
	cfg  *Config
	gas  gas.Config
	trap *errors.Error
}

func withCallState(ctx context.Context, st *callState) context.Context {
	return context.WithValue(ctx, callStateKey{}, st)
}

func stateFrom(ctx context.Context) *callState {
	st, ok := ctx.Value(callStateKey{}).(*callState)
	if !ok {
		panic(errors.New(errors.KindInternalPanic).Detail("host function called outside a contract call").Build())
	}
	return st
}

// abort stops the guest. The first recorded error wins.
func (st *callState) abort(e *errors.Error) {
	if st.trap == nil {
		st.trap = e
	}
	panic(e)
}

// rethrow records a panic raised below a host function before wazero turns
// it into a plain trap.
func (st *callState) rethrow(op string) {
	if r := recover(); r != nil {
		if st.trap == nil {
			st.trap = errors.FromPanic(op, r)
		}
		panic(r)
	}
}

func (st *callState) check(op string, err error) {
	if err != nil {
		st.abort(errors.WithOp(errors.As(err), op))
	}
}

func (st *callState) charge(amount uint64, descriptor string) {
	if e := st.call.Gas.TryConsumeGas(amount, descriptor); e != nil {
		st.abort(e)
	}
}

func (st *callState) enter(op string) {
	st.charge(st.gas.HostCall, op)
}

func (st *callState) read(op string, m api.Module, ptr, limit uint32) []byte {
	data, err := readRegionData(m.Memory(), ptr, limit)
	if err != nil {
		st.abort(errors.New(errors.KindEngineFailure).Op(op).Detail("read region: %v", err).Cause(err).Build())
	}
	st.charge(gas.Mul(st.gas.PerByte, uint64(len(data))), op)
	return data
}

func (st *callState) write(ctx context.Context, op string, m api.Module, data []byte) uint32 {
	st.charge(gas.Mul(st.gas.PerByte, uint64(len(data))), op)
	ptr, err := allocateRegion(ctx, m, data)
	if err != nil {
		st.abort(errors.New(errors.KindEngineFailure).Op(op).Detail("write region: %v", err).Cause(err).Build())
	}
	return ptr
}

func (st *callState) logger() *zap.Logger {
	if st.call.Logger != nil {
		return st.call.Logger
	}
	return zap.NewNop()
}

// buildEnv instantiates the "env" host module shared by every contract on
// the runtime. Per-call state travels in the context.
func (vm *WazeroVM) buildEnv(ctx context.Context) (api.Module, error) {
	b := vm.runtime.NewHostModuleBuilder("env")

	export := func(name string, fn any, params ...string) {
		b.NewFunctionBuilder().WithFunc(fn).WithParameterNames(params...).Export(name)
	}

	export("db_read", vm.dbRead, "key_ptr")
	export("db_write", vm.dbWrite, "key_ptr", "value_ptr")
	export("db_remove", vm.dbRemove, "key_ptr")
	export("db_scan", vm.dbScan, "start_ptr", "end_ptr", "order")
	export("db_next", vm.dbNext, "iterator_id")

	export("addr_validate", vm.addrValidate, "source_ptr")
	export("addr_canonicalize", vm.addrCanonicalize, "source_ptr", "destination_ptr")
	export("addr_humanize", vm.addrHumanize, "source_ptr", "destination_ptr")
	export("canonicalize_address", vm.addrCanonicalize, "source_ptr", "destination_ptr")
	export("humanize_address", vm.addrHumanize, "source_ptr", "destination_ptr")

	export("secp256k1_verify", vm.secp256k1Verify, "hash_ptr", "signature_ptr", "pubkey_ptr")
	export("secp256k1_recover_pubkey", vm.secp256k1Recover, "hash_ptr", "signature_ptr", "recovery_param")
	export("secp256k1_sign", vm.secp256k1Sign, "message_ptr", "private_key_ptr")
	export("ed25519_verify", vm.ed25519Verify, "message_ptr", "signature_ptr", "pubkey_ptr")
	export("ed25519_batch_verify", vm.ed25519BatchVerify, "messages_ptr", "signatures_ptr", "pubkeys_ptr")
	export("ed25519_sign", vm.ed25519Sign, "message_ptr", "private_key_ptr")

	export("debug", vm.debug, "message_ptr")
	export("debug_print", vm.debug, "message_ptr")
	export("query_chain", vm.queryChain, "request_ptr")
	export("gas_evaporate", vm.gasEvaporate, "evaporate")
	export("check_gas", vm.checkGas)
	export("abort", vm.abort, "message_ptr")

	return b.Instantiate(ctx)
}

func (vm *WazeroVM) dbRead(ctx context.Context, m api.Module, keyPtr uint32) uint32 {
	st := stateFrom(ctx)
	defer st.rethrow("db_read")
	st.enter("db_read")

	key := st.read("db_read", m, keyPtr, maxKeyLength)
	value, err := st.call.Store.Get(key)
	st.check("db_read", err)
	if value == nil {
		return 0
	}
	return st.write(ctx, "db_read", m, value)
}

func (vm *WazeroVM) dbWrite(ctx context.Context, m api.Module, keyPtr, valuePtr uint32) {
	st := stateFrom(ctx)
	defer st.rethrow("db_write")
	st.enter("db_write")

	w, err := cursor.AsWriter(st.call.Store, "db_write")
	st.check("db_write", err)
	key := st.read("db_write", m, keyPtr, maxKeyLength)
	value := st.read("db_write", m, valuePtr, maxValueLength)
	st.check("db_write", w.Set(key, value))
}

func (vm *WazeroVM) dbRemove(ctx context.Context, m api.Module, keyPtr uint32) {
	st := stateFrom(ctx)
	defer st.rethrow("db_remove")
	st.enter("db_remove")

	w, err := cursor.AsWriter(st.call.Store, "db_remove")
	st.check("db_remove", err)
	key := st.read("db_remove", m, keyPtr, maxKeyLength)
	st.check("db_remove", w.Delete(key))
}

// dbScan returns the slot of the new iterator. A zero pointer leaves the
// bound open.
func (vm *WazeroVM) dbScan(ctx context.Context, m api.Module, startPtr, endPtr uint32, order int32) uint32 {
	st := stateFrom(ctx)
	defer st.rethrow("db_scan")
	st.enter("db_scan")

	var start, end []byte
	if startPtr != 0 {
		start = st.read("db_scan", m, startPtr, maxKeyLength)
	}
	if endPtr != 0 {
		end = st.read("db_scan", m, endPtr, maxKeyLength)
	}
	h, err := st.call.Store.Open(start, end, types.Order(order))
	st.check("db_scan", err)
	return h.Slot()
}

// dbNext answers with sections (key, value). Both are empty at the end of
// the range.
func (vm *WazeroVM) dbNext(ctx context.Context, m api.Module, iteratorID uint32) uint32 {
	st := stateFrom(ctx)
	defer st.rethrow("db_next")
	st.enter("db_next")

	key, value, ok, err := st.call.Store.Next(cursor.NewHandle(st.call.ID, iteratorID))
	st.check("db_next", err)
	if !ok {
		return st.write(ctx, "db_next", m, encodeSections(nil, nil))
	}
	return st.write(ctx, "db_next", m, encodeSections(key, value))
}

// addrValidate returns 0 or a region holding the error message.
func (vm *WazeroVM) addrValidate(ctx context.Context, m api.Module, sourcePtr uint32) uint32 {
	st := stateFrom(ctx)
	defer st.rethrow("addr_validate")
	st.enter("addr_validate")

	source := st.read("addr_validate", m, sourcePtr, maxAddressLength)
	if !utf8.Valid(source) {
		return st.write(ctx, "addr_validate", m, []byte("Input is not valid UTF-8"))
	}
	if err := vm.codec.Validate(string(source)); err != nil {
		return st.write(ctx, "addr_validate", m, []byte(err.Error()))
	}
	return 0
}

func (vm *WazeroVM) addrCanonicalize(ctx context.Context, m api.Module, sourcePtr, destPtr uint32) uint32 {
	st := stateFrom(ctx)
	defer st.rethrow("addr_canonicalize")
	st.enter("addr_canonicalize")

	source := st.read("addr_canonicalize", m, sourcePtr, maxAddressLength)
	if !utf8.Valid(source) {
		return st.write(ctx, "addr_canonicalize", m, []byte("Input is not valid UTF-8"))
	}
	canonical, err := vm.codec.Canonicalize(string(source))
	if err != nil {
		return st.write(ctx, "addr_canonicalize", m, []byte(err.Error()))
	}
	vm.fill(st, "addr_canonicalize", m, destPtr, canonical)
	return 0
}

func (vm *WazeroVM) addrHumanize(ctx context.Context, m api.Module, sourcePtr, destPtr uint32) uint32 {
	st := stateFrom(ctx)
	defer st.rethrow("addr_humanize")
	st.enter("addr_humanize")

	source := st.read("addr_humanize", m, sourcePtr, maxAddressLength)
	human, err := vm.codec.Humanize(source)
	if err != nil {
		return st.write(ctx, "addr_humanize", m, []byte(err.Error()))
	}
	vm.fill(st, "addr_humanize", m, destPtr, []byte(human))
	return 0
}

// fill writes into a region the guest allocated up front.
func (vm *WazeroVM) fill(st *callState, op string, m api.Module, ptr uint32, data []byte) {
	st.charge(gas.Mul(st.gas.PerByte, uint64(len(data))), op)
	if err := writeRegionData(m.Memory(), ptr, data); err != nil {
		st.abort(errors.New(errors.KindEngineFailure).Op(op).Detail("write region: %v", err).Cause(err).Build())
	}
}

func (vm *WazeroVM) secp256k1Verify(ctx context.Context, m api.Module, hashPtr, sigPtr, pubkeyPtr uint32) uint32 {
	st := stateFrom(ctx)
	defer st.rethrow("secp256k1_verify")
	st.charge(st.gas.Secp256k1Verify, "secp256k1_verify")

	hash := st.read("secp256k1_verify", m, hashPtr, 32)
	sig := st.read("secp256k1_verify", m, sigPtr, 64)
	pubkey := st.read("secp256k1_verify", m, pubkeyPtr, 65)
	return secp256k1VerifyCode(hash, sig, pubkey)
}

func secp256k1VerifyCode(hash, sig, pubkey []byte) uint32 {
	if len(hash) != 32 {
		return cryptoInvalidHashFormat
	}
	if len(sig) != 64 {
		return cryptoInvalidSigFormat
	}
	pk, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return cryptoInvalidPubkey
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow {
		return cryptoInvalidSigFormat
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow {
		return cryptoInvalidSigFormat
	}
	if r.IsZero() || s.IsZero() {
		return cryptoInvalidSignature
	}
	if !ecdsa.NewSignature(&r, &s).Verify(hash, pk) {
		return cryptoInvalidSignature
	}
	return cryptoOK
}

// packResult puts an error code in the high half and a region pointer in
// the low half.
func packResult(code uint32, ptr uint32) uint64 {
	return uint64(code)<<32 | uint64(ptr)
}

func (vm *WazeroVM) secp256k1Recover(ctx context.Context, m api.Module, hashPtr, sigPtr, recoveryParam uint32) uint64 {
	st := stateFrom(ctx)
	defer st.rethrow("secp256k1_recover_pubkey")
	st.charge(st.gas.Secp256k1Recover, "secp256k1_recover_pubkey")

	hash := st.read("secp256k1_recover_pubkey", m, hashPtr, 32)
	sig := st.read("secp256k1_recover_pubkey", m, sigPtr, 64)
	pubkey, code := secp256k1Recover(hash, sig, recoveryParam)
	if code != cryptoOK {
		return packResult(code, 0)
	}
	return packResult(0, st.write(ctx, "secp256k1_recover_pubkey", m, pubkey))
}

// secp256k1Recover returns the uncompressed public key.
func secp256k1Recover(hash, sig []byte, recoveryParam uint32) ([]byte, uint32) {
	if len(hash) != 32 {
		return nil, cryptoInvalidHashFormat
	}
	if len(sig) != 64 {
		return nil, cryptoInvalidSigFormat
	}
	if recoveryParam > 1 {
		return nil, cryptoInvalidRecoveryID
	}
	compact := append([]byte{27 + byte(recoveryParam)}, sig...)
	pk, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return nil, cryptoInvalidSignature
	}
	return pk.SerializeUncompressed(), cryptoOK
}

func (vm *WazeroVM) secp256k1Sign(ctx context.Context, m api.Module, msgPtr, privPtr uint32) uint64 {
	st := stateFrom(ctx)
	defer st.rethrow("secp256k1_sign")
	st.charge(st.gas.Secp256k1Sign, "secp256k1_sign")

	msg := st.read("secp256k1_sign", m, msgPtr, maxMessageLength)
	priv := st.read("secp256k1_sign", m, privPtr, 32)
	sig, code := secp256k1Sign(msg, priv)
	if code != cryptoOK {
		return packResult(code, 0)
	}
	return packResult(0, st.write(ctx, "secp256k1_sign", m, sig))
}

// secp256k1Sign signs sha256(msg) and returns r || s.
func secp256k1Sign(msg, priv []byte) ([]byte, uint32) {
	if len(priv) != 32 {
		return nil, cryptoInvalidPrivateKey
	}
	key := secp256k1.PrivKeyFromBytes(priv)
	if key.Key.IsZero() {
		return nil, cryptoInvalidPrivateKey
	}
	hash := sha256.Sum256(msg)
	return ecdsa.SignCompact(key, hash[:], false)[1:], cryptoOK
}

func (vm *WazeroVM) ed25519Verify(ctx context.Context, m api.Module, msgPtr, sigPtr, pubkeyPtr uint32) uint32 {
	st := stateFrom(ctx)
	defer st.rethrow("ed25519_verify")
	st.charge(st.gas.Ed25519Verify, "ed25519_verify")

	msg := st.read("ed25519_verify", m, msgPtr, maxMessageLength)
	sig := st.read("ed25519_verify", m, sigPtr, 64)
	pubkey := st.read("ed25519_verify", m, pubkeyPtr, 32)
	switch {
	case len(sig) != 64:
		return cryptoInvalidSigFormat
	case len(pubkey) != 32:
		return cryptoInvalidPubkey
	case !security.Verify(msg, sig, pubkey):
		return cryptoInvalidSignature
	}
	return cryptoOK
}

func (vm *WazeroVM) ed25519BatchVerify(ctx context.Context, m api.Module, msgsPtr, sigsPtr, pubkeysPtr uint32) uint32 {
	st := stateFrom(ctx)
	defer st.rethrow("ed25519_batch_verify")
	st.enter("ed25519_batch_verify")

	limit := uint32(maxBatchLength * (maxMessageLength + 4))
	msgs := vm.sections(st, "ed25519_batch_verify", m, msgsPtr, limit)
	sigs := vm.sections(st, "ed25519_batch_verify", m, sigsPtr, maxBatchLength*(64+4))
	pubkeys := vm.sections(st, "ed25519_batch_verify", m, pubkeysPtr, maxBatchLength*(32+4))
	if !batchShape(len(msgs), len(sigs), len(pubkeys)) {
		return cryptoBatchLengthMismatch
	}
	st.charge(gas.Mul(st.gas.Ed25519Verify, uint64(len(sigs))), "ed25519_batch_verify")

	if !security.BatchVerify(msgs, sigs, pubkeys) {
		return cryptoInvalidSignature
	}
	return cryptoOK
}

// batchShape accepts equal lengths, or a single message or key shared by
// every signature.
func batchShape(msgs, sigs, pubkeys int) bool {
	if sigs > maxBatchLength {
		return false
	}
	return (msgs == sigs || msgs == 1) && (pubkeys == sigs || pubkeys == 1)
}

func (vm *WazeroVM) sections(st *callState, op string, m api.Module, ptr, limit uint32) [][]byte {
	data := st.read(op, m, ptr, limit)
	out, err := decodeSections(data)
	if err != nil {
		st.abort(errors.New(errors.KindEngineFailure).Op(op).Detail("decode sections: %v", err).Cause(err).Build())
	}
	return out
}

func (vm *WazeroVM) ed25519Sign(ctx context.Context, m api.Module, msgPtr, privPtr uint32) uint64 {
	st := stateFrom(ctx)
	defer st.rethrow("ed25519_sign")
	st.charge(st.gas.Ed25519Sign, "ed25519_sign")

	msg := st.read("ed25519_sign", m, msgPtr, maxMessageLength)
	seed := st.read("ed25519_sign", m, privPtr, 32)
	sig, err := security.Sign(msg, seed)
	if err != nil {
		return packResult(cryptoInvalidPrivateKey, 0)
	}
	return packResult(0, st.write(ctx, "ed25519_sign", m, sig))
}

func (vm *WazeroVM) debug(ctx context.Context, m api.Module, msgPtr uint32) {
	st := stateFrom(ctx)
	defer st.rethrow("debug")
	st.enter("debug")

	msg := st.read("debug", m, msgPtr, maxMessageLength)
	if st.cfg.PrintDebug {
		st.logger().Debug("contract debug", zap.Uint32("call", st.call.ID), zap.ByteString("message", msg))
	}
}

// systemResult is the envelope query_chain answers with.
type systemResult struct {
	Ok  *contractResult `json:"ok,omitempty"`
	Err *systemError    `json:"error,omitempty"`
}

type systemError struct {
	Unsupported    *unsupportedRequest `json:"unsupported_request,omitempty"`
	InvalidRequest *invalidRequest     `json:"invalid_request,omitempty"`
}

type unsupportedRequest struct {
	Kind string `json:"kind"`
}

type invalidRequest struct {
	Error   string `json:"error"`
	Request []byte `json:"request"`
}

func (vm *WazeroVM) queryChain(ctx context.Context, m api.Module, reqPtr uint32) uint32 {
	st := stateFrom(ctx)
	defer st.rethrow("query_chain")
	st.enter("query_chain")

	req := st.read("query_chain", m, reqPtr, maxMessageLength)
	var res systemResult
	switch {
	case st.call.Querier == nil:
		res.Err = &systemError{Unsupported: &unsupportedRequest{Kind: "no querier"}}
	case !json.Valid(req):
		res.Err = &systemError{InvalidRequest: &invalidRequest{Error: "request is not valid JSON", Request: req}}
	default:
		data, err := st.call.Querier.Query(req, st.call.Gas.Remaining())
		if e := errors.As(err); e != nil && e.Kind == errors.KindOutOfGas {
			st.abort(e)
		}
		if err != nil {
			msg := err.Error()
			res.Ok = &contractResult{Err: &msg}
		} else {
			ok, _ := json.Marshal(data)
			res.Ok = &contractResult{Ok: ok}
		}
	}
	out, err := json.Marshal(res)
	st.check("query_chain", err)
	return st.write(ctx, "query_chain", m, out)
}

func (vm *WazeroVM) gasEvaporate(ctx context.Context, evaporate uint32) uint32 {
	st := stateFrom(ctx)
	defer st.rethrow("gas_evaporate")
	st.enter("gas_evaporate")

	st.charge(gas.Mul(uint64(evaporate), st.gas.EvaporateMultiplier), "gas_evaporate")
	return 0
}

func (vm *WazeroVM) checkGas(ctx context.Context) uint64 {
	st := stateFrom(ctx)
	defer st.rethrow("check_gas")
	st.enter("check_gas")
	return st.call.Gas.GasConsumed()
}

func (vm *WazeroVM) abort(ctx context.Context, m api.Module, msgPtr uint32) {
	st := stateFrom(ctx)
	defer st.rethrow("abort")

	msg, err := readRegionData(m.Memory(), msgPtr, maxMessageLength)
	if err != nil {
		msg = []byte(fmt.Sprintf("unreadable abort message: %v", err))
	}
	st.abort(errors.New(errors.KindEngineFailure).Op("abort").Detail("contract aborted: %s", msg).Build())
}
