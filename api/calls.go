package api

import (
	"encoding/json"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/govm-net/teebridge/errors"
	"github.com/govm-net/teebridge/logging"
	"github.com/govm-net/teebridge/types"
	"github.com/govm-net/teebridge/vm"
)

// Every call below fills errOut. On success *errOut is the none record and
// the CallResult carries the output; on failure the CallResult carries only
// GasUsed and *errOut describes the error. A host passing a nil errOut
// misuses the boundary: a failure is then logged at error level instead of
// being returned, and nothing is allocated.

// InstanceMeta is the optional metadata document passed to Instantiate.
type InstanceMeta struct {
	Admin string `json:"admin"`
	Label string `json:"label"`
}

// Instantiate runs the constructor of the contract at env.contract.address.
// meta may be the none buffer.
func Instantiate(ctx ContextHandle, checksum, env, info, msg, meta types.Buffer, gasLimit uint64, errOut *types.ErrorInfo) types.CallResult {
	return lifecycle(vm.OpInstantiate, errOut, func() (*vm.Result, uint64, error) {
		req, err := request(ctx, checksum, env, info, msg, gasLimit)
		if err != nil {
			return nil, 0, err
		}
		raw, err := view("meta", meta)
		if err != nil {
			return nil, 0, err
		}
		if raw != nil {
			var m InstanceMeta
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, 0, errors.New(errors.KindInvalidInput).Detail("decode instance meta").Cause(err).Build()
			}
			req.Admin, req.Label = m.Admin, m.Label
		}
		return vm.Default().Instantiate(req)
	})
}

func Execute(ctx ContextHandle, checksum, env, info, msg types.Buffer, gasLimit uint64, errOut *types.ErrorInfo) types.CallResult {
	return lifecycle(vm.OpExecute, errOut, func() (*vm.Result, uint64, error) {
		req, err := request(ctx, checksum, env, info, msg, gasLimit)
		if err != nil {
			return nil, 0, err
		}
		return vm.Default().Execute(req)
	})
}

// Query takes no message info.
func Query(ctx ContextHandle, checksum, env, msg types.Buffer, gasLimit uint64, errOut *types.ErrorInfo) types.CallResult {
	return lifecycle(vm.OpQuery, errOut, func() (*vm.Result, uint64, error) {
		req, err := request(ctx, checksum, env, types.Buffer{}, msg, gasLimit)
		if err != nil {
			return nil, 0, err
		}
		return vm.Default().Query(req)
	})
}

// Migrate moves the instance at env.contract.address to checksum. info
// names the sender checked against the instance admin.
func Migrate(ctx ContextHandle, checksum, env, info, msg types.Buffer, gasLimit uint64, errOut *types.ErrorInfo) types.CallResult {
	return lifecycle(vm.OpMigrate, errOut, func() (*vm.Result, uint64, error) {
		req, err := request(ctx, checksum, env, info, msg, gasLimit)
		if err != nil {
			return nil, 0, err
		}
		return vm.Default().Migrate(req)
	})
}

// AnalyzeCode returns the JSON analysis report of code as Data.
func AnalyzeCode(code types.Buffer, errOut *types.ErrorInfo) types.CallResult {
	return codeCall(vm.OpAnalyzeCode, errOut, func() ([]byte, error) {
		raw, err := view("code", code)
		if err != nil {
			return nil, err
		}
		report, err := vm.Default().AnalyzeCode(raw)
		if err != nil {
			return nil, err
		}
		return json.Marshal(report)
	})
}

// StoreCode returns the 32-byte checksum of the stored code as Data.
func StoreCode(code types.Buffer, errOut *types.ErrorInfo) types.CallResult {
	return codeCall(vm.OpStoreCode, errOut, func() ([]byte, error) {
		raw, err := view("code", code)
		if err != nil {
			return nil, err
		}
		checksum, err := vm.Default().StoreCode(raw)
		if err != nil {
			return nil, err
		}
		return checksum[:], nil
	})
}

func GetCode(checksum types.Buffer, errOut *types.ErrorInfo) types.CallResult {
	return codeCall(vm.OpGetCode, errOut, func() ([]byte, error) {
		c, err := parseChecksum(checksum)
		if err != nil {
			return nil, err
		}
		return vm.Default().GetCode(c)
	})
}

// RemoveCode returns no Data.
func RemoveCode(checksum types.Buffer, errOut *types.ErrorInfo) types.CallResult {
	return codeCall(vm.OpRemoveCode, errOut, func() ([]byte, error) {
		c, err := parseChecksum(checksum)
		if err != nil {
			return nil, err
		}
		return nil, vm.Default().RemoveCode(c)
	})
}

// ReleaseCallResult releases every buffer of r and clears it.
func ReleaseCallResult(r *types.CallResult) error {
	if r == nil {
		return nil
	}
	err := buffers.Release(r.Data)
	for _, ev := range r.Events {
		err = multierr.Append(err, buffers.Release(ev.Key))
		err = multierr.Append(err, buffers.Release(ev.Value))
	}
	*r = types.CallResult{}
	return err
}

// ReleaseErrorInfo releases the message and backtrace of e and clears it.
func ReleaseErrorInfo(e *types.ErrorInfo) error {
	if e == nil {
		return nil
	}
	err := multierr.Append(buffers.Release(e.Message), buffers.Release(e.Backtrace))
	*e = types.ErrorInfo{}
	return err
}

func request(ctx ContextHandle, checksum, env, info, msg types.Buffer, gasLimit uint64) (vm.Request, error) {
	hc, err := lookupContext(ctx)
	if err != nil {
		return vm.Request{}, err
	}
	c, err := parseChecksum(checksum)
	if err != nil {
		return vm.Request{}, err
	}
	req := vm.Request{Checksum: c, Store: hc.store, Querier: hc.querier, GasLimit: gasLimit}
	if req.Env, err = view("env", env); err != nil {
		return vm.Request{}, err
	}
	if req.Info, err = view("info", info); err != nil {
		return vm.Request{}, err
	}
	if req.Msg, err = view("msg", msg); err != nil {
		return vm.Request{}, err
	}
	return req, nil
}

func parseChecksum(b types.Buffer) (types.Checksum, error) {
	raw, err := view("checksum", b)
	if err != nil {
		return types.Checksum{}, err
	}
	c, ok := types.ChecksumFromBytes(raw)
	if !ok {
		return types.Checksum{}, errors.InvalidInput("checksum must be 32 bytes, got %d", len(raw))
	}
	return c, nil
}

type outcome struct {
	res     *vm.Result
	gasUsed uint64
}

func lifecycle(op string, errOut *types.ErrorInfo, fn func() (*vm.Result, uint64, error)) types.CallResult {
	out, err := errors.Capture(op, func() (outcome, error) {
		res, gasUsed, err := fn()
		return outcome{res: res, gasUsed: gasUsed}, err
	})
	if err != nil {
		return fail(op, errOut, err, out.gasUsed)
	}
	setNone(errOut)

	result := types.CallResult{GasUsed: out.gasUsed}
	if out.res == nil {
		return result
	}
	result.Data = output(out.res.Data)
	for _, ev := range out.res.Events {
		result.Events = append(result.Events, types.EventAttribute{
			Key:   buffers.Copy([]byte(ev.Key)),
			Value: buffers.Copy([]byte(ev.Value)),
		})
	}
	return result
}

func codeCall(op string, errOut *types.ErrorInfo, fn func() ([]byte, error)) types.CallResult {
	data, err := errors.Capture(op, fn)
	if err != nil {
		return fail(op, errOut, err, 0)
	}
	setNone(errOut)
	return types.CallResult{Data: output(data)}
}

func fail(op string, errOut *types.ErrorInfo, err error, gasUsed uint64) types.CallResult {
	e := errors.WithOp(errors.As(err), op)
	if errOut == nil {
		logging.L().Error("call failed without an error record",
			zap.String("op", op), zap.Stringer("kind", e.Kind), zap.Error(e))
		return types.CallResult{GasUsed: gasUsed}
	}
	*errOut = types.ErrorInfo{
		Kind:    uint32(e.Kind),
		Message: buffers.Copy([]byte(e.Message())),
	}
	if e.Backtrace != "" {
		errOut.Backtrace = buffers.Copy([]byte(e.Backtrace))
	}
	return types.CallResult{GasUsed: gasUsed}
}

func setNone(errOut *types.ErrorInfo) {
	if errOut != nil {
		*errOut = types.ErrorInfo{}
	}
}
