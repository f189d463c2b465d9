package vm

import (
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/govm-net/teebridge/address"
	"github.com/govm-net/teebridge/config"
	"github.com/govm-net/teebridge/engine"
	"github.com/govm-net/teebridge/logging"
	"github.com/govm-net/teebridge/metrics"
	"github.com/govm-net/teebridge/mock"
	"github.com/govm-net/teebridge/repository"
	"github.com/govm-net/teebridge/security"
	"github.com/govm-net/teebridge/wasi"
)

// ErrAlreadyBootstrapped is returned by every Bootstrap after the first
// successful one, including after Shutdown.
var ErrAlreadyBootstrapped = stderrors.New("bridge already bootstrapped")

var (
	bootMu sync.Mutex
	booted bool
	global = &Dispatcher{}
)

// Option overrides a component Bootstrap would otherwise build from config.
type Option func(*options)

type options struct {
	engine    engine.Engine
	whitelist *security.Whitelist
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// WithEngine runs calls on e instead of the engine named by enclave.mode.
func WithEngine(e engine.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithWhitelist uses w instead of loading the whitelist file.
func WithWhitelist(w *security.Whitelist) Option {
	return func(o *options) { o.whitelist = w }
}

// WithLogger installs l instead of building a logger from the log section.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Bootstrap initializes the process-wide dispatcher. It runs once per
// process: any later call is logged at error level and fails with
// ErrAlreadyBootstrapped. A Bootstrap that failed may be retried.
func Bootstrap(cfg config.Config, opts ...Option) (*Dispatcher, error) {
	bootMu.Lock()
	defer bootMu.Unlock()

	if booted {
		logging.L().Error("bootstrap called more than once", zap.Stringer("state", global.State()))
		return nil, ErrAlreadyBootstrapped
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = logging.New(cfg.Log); err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}
	logging.Install(logger)

	measurement, err := measureEnclave(cfg.Enclave.Path)
	if err != nil {
		return nil, err
	}

	whitelist := o.whitelist
	if whitelist == nil {
		whitelist = security.NewWhitelist()
		if cfg.Whitelist != "" {
			if whitelist, err = security.LoadWhitelist(cfg.Whitelist); err != nil {
				return nil, err
			}
		}
	}

	repo, err := repository.NewManager(cfg.Repository.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open code repository: %w", err)
	}

	eng := o.engine
	if eng == nil {
		if eng, err = newEngine(cfg, logger); err != nil {
			return nil, err
		}
	}

	m := o.metrics
	if m == nil {
		m = metrics.New()
	}
	m.Gauge("whitelist_keys", "Validator keys loaded at bootstrap.", func() float64 {
		return float64(whitelist.Len())
	})

	err = global.start(Components{
		Engine:      eng,
		Repository:  repo,
		Whitelist:   whitelist,
		Privileged:  cfg.Privileged.Messages,
		KVGas:       cfg.Engine.Gas.KV,
		MaxCodeSize: cfg.MaxContractSize,
		Metrics:     m,
		Logger:      logger.Named("dispatcher"),
		Measurement: measurement,
	})
	if err != nil {
		eng.Close()
		return nil, err
	}
	booted = true

	logger.Info("bridge bootstrapped",
		zap.String("engine", eng.Name()),
		zap.Int("validators", whitelist.Len()),
		zap.String("measurement", hex.EncodeToString(measurement[:])),
		zap.String("repository", cfg.Repository.Dir))
	return global, nil
}

// Default returns the process-wide dispatcher. Before Bootstrap it is
// uninitialized and rejects every call.
func Default() *Dispatcher {
	bootMu.Lock()
	defer bootMu.Unlock()
	return global
}

// Shutdown closes the process-wide dispatcher. There is no way back to ready.
func Shutdown() error {
	d := Default()
	err := d.Close()
	logging.L().Info("bridge shut down")
	_ = logging.L().Sync()
	return err
}

func newEngine(cfg config.Config, logger *zap.Logger) (engine.Engine, error) {
	switch cfg.Enclave.Mode {
	case config.ModeMock:
		gasCfg := mock.GasConfig{CallBase: cfg.Engine.Gas.CallBase, PerByte: cfg.Engine.Gas.PerByte}
		e := mock.NewEngine(gasCfg, address.NewCodec(cfg.Engine.Bech32Prefix), logger)
		e.Register(mock.CounterCode, mock.Counter{})
		return e, nil
	default:
		e, err := wasi.NewWazeroVM(cfg.Engine, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create wazero engine: %w", err)
		}
		return e, nil
	}
}

// measureEnclave hashes the enclave binary. No path means no measurement.
func measureEnclave(path string) ([32]byte, error) {
	if path == "" {
		return [32]byte{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to read enclave binary: %w", err)
	}
	return sha256.Sum256(data), nil
}
