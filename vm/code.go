package vm

import (
	"crypto/sha256"
	stderrors "errors"
	"time"

	"github.com/govm-net/teebridge/errors"
	"github.com/govm-net/teebridge/repository"
	"github.com/govm-net/teebridge/types"
)

// AnalyzeCode inspects code without running it. No gas is consumed.
func (d *Dispatcher) AnalyzeCode(code []byte) (*types.AnalysisReport, error) {
	return codeOp(d, OpAnalyzeCode, func() (*types.AnalysisReport, error) {
		if err := d.checkCodeSize(code); err != nil {
			return nil, err
		}
		return d.engine.Analyze(code)
	})
}

// StoreCode validates code, keeps it in the repository and prepares it in
// the engine. Storing the same code twice returns the same checksum.
func (d *Dispatcher) StoreCode(code []byte) (types.Checksum, error) {
	return codeOp(d, OpStoreCode, func() (types.Checksum, error) {
		if err := d.checkCodeSize(code); err != nil {
			return types.Checksum{}, err
		}
		report, err := d.engine.Analyze(code)
		if err != nil {
			return types.Checksum{}, err
		}
		checksum := types.Checksum(sha256.Sum256(code))
		stored := d.repo.HasCode(checksum)
		if err := d.engine.Prepare(checksum, code); err != nil {
			return types.Checksum{}, err
		}
		if stored {
			return checksum, nil
		}
		if _, err := d.repo.StoreCode(code, report); err != nil {
			d.engine.Forget(checksum)
			return types.Checksum{}, errors.EngineFailure(err, "store code")
		}
		return checksum, nil
	})
}

// GetCode returns the stored code for checksum.
func (d *Dispatcher) GetCode(checksum types.Checksum) ([]byte, error) {
	return codeOp(d, OpGetCode, func() ([]byte, error) {
		c, err := d.repo.GetCode(checksum)
		if stderrors.Is(err, repository.ErrCodeNotFound) {
			return nil, errors.InvalidInput("no code for checksum %s", checksum)
		}
		if err != nil {
			return nil, errors.EngineFailure(err, "load code %s", checksum)
		}
		return c.Code, nil
	})
}

// RemoveCode deletes code no instance runs and drops it from the engine.
func (d *Dispatcher) RemoveCode(checksum types.Checksum) error {
	_, err := codeOp(d, OpRemoveCode, func() (struct{}, error) {
		err := d.repo.RemoveCode(checksum)
		switch {
		case err == nil:
		case stderrors.Is(err, repository.ErrCodeNotFound), stderrors.Is(err, repository.ErrCodeInUse):
			return struct{}{}, errors.New(errors.KindInvalidInput).Cause(err).Build()
		default:
			return struct{}{}, errors.EngineFailure(err, "remove code %s", checksum)
		}
		d.engine.Forget(checksum)
		return struct{}{}, nil
	})
	return err
}

func (d *Dispatcher) checkCodeSize(code []byte) error {
	if len(code) == 0 {
		return errors.InvalidInput("code is empty")
	}
	if d.maxCodeSize > 0 && uint64(len(code)) > d.maxCodeSize {
		return errors.InvalidInput("code is %d bytes, limit is %d", len(code), d.maxCodeSize)
	}
	return nil
}

// codeOp runs a code management operation under the call lock.
func codeOp[T any](d *Dispatcher, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	if err := d.enter(op); err != nil {
		var zero T
		return zero, err
	}
	defer d.leave()

	out, err := errors.Capture(op, fn)
	if err != nil {
		err = errors.WithOp(errors.As(err), op)
	}
	d.finish(op, types.Checksum{}, 0, time.Since(start), err)
	return out, err
}
