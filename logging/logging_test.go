package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/govm-net/teebridge/config"
)

func TestNewWritesRotatingFile(t *testing.T) {
	cfg := config.Default().Log
	cfg.Level = "debug"
	cfg.File = filepath.Join(t.TempDir(), "teebridge.log")

	l, err := New(cfg)
	require.NoError(t, err)
	l.Info("bootstrapped", zap.String("engine", "mock"))
	_ = l.Sync()

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"bootstrapped"`)
	assert.Contains(t, string(data), `"engine":"mock"`)
}

func TestNewRejectsLevel(t *testing.T) {
	cfg := config.Default().Log
	cfg.Level = "chatty"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestInstall(t *testing.T) {
	assert.NotNil(t, L())

	l := zap.NewExample()
	Install(l)
	t.Cleanup(func() { global.Store(nil) })
	assert.Same(t, l, L())
	assert.Same(t, l, Or(nil))

	other := zap.NewNop()
	assert.Same(t, other, Or(other))
}
