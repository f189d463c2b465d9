package vm

import (
	"go.uber.org/zap"

	"github.com/govm-net/teebridge/logging"
)

// resetBootstrap forgets the process-wide dispatcher so each test can
// bootstrap again.
func resetBootstrap() {
	bootMu.Lock()
	defer bootMu.Unlock()
	if global != nil {
		global.Close()
	}
	booted = false
	global = &Dispatcher{}
	logging.Install(zap.NewNop())
}
