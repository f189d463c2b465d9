package vm

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/govm-net/teebridge/config"
	"github.com/govm-net/teebridge/mock"
	"github.com/govm-net/teebridge/security"
	"github.com/govm-net/teebridge/state/memory"
)

func bootConfig(t *testing.T, mode string) config.Config {
	t.Helper()
	dir := t.TempDir()

	enclave := filepath.Join(dir, "enclave.signed.so")
	require.NoError(t, os.WriteFile(enclave, []byte("enclave image"), 0644))

	pk, err := security.PublicKeyFromSeed(validator)
	require.NoError(t, err)
	whitelist := filepath.Join(dir, "validators.txt")
	require.NoError(t, os.WriteFile(whitelist, []byte("# validators\n"+pk.String()+"\n"), 0644))

	cfg := config.Default()
	cfg.Enclave = config.EnclaveConfig{Path: enclave, Mode: mode}
	cfg.Whitelist = whitelist
	cfg.Repository.Dir = filepath.Join(dir, "code")
	return cfg
}

func TestBootstrapRunsOnce(t *testing.T) {
	resetBootstrap()
	t.Cleanup(resetBootstrap)

	assert.Equal(t, StateUninitialized, Default().State())

	cfg := bootConfig(t, config.ModeMock)
	d, err := Bootstrap(cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	assert.Same(t, d, Default())
	assert.Equal(t, StateReady, d.State())

	image, err := os.ReadFile(cfg.Enclave.Path)
	require.NoError(t, err)
	assert.Equal(t, sha256.Sum256(image), d.Measurement())

	_, err = Bootstrap(cfg)
	assert.ErrorIs(t, err, ErrAlreadyBootstrapped)
	assert.Same(t, d, Default())

	require.NoError(t, Shutdown())
	assert.Equal(t, StateClosed, Default().State())
	_, err = Bootstrap(cfg)
	assert.ErrorIs(t, err, ErrAlreadyBootstrapped)
}

func TestBootstrapWhitelistIsFixed(t *testing.T) {
	resetBootstrap()
	t.Cleanup(resetBootstrap)

	cfg := bootConfig(t, config.ModeMock)
	d, err := Bootstrap(cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	member, err := security.PublicKeyFromSeed(validator)
	require.NoError(t, err)
	late, err := security.PublicKeyFromSeed(stranger)
	require.NoError(t, err)
	assert.True(t, d.Gate().Authorize(member[:]))
	assert.False(t, d.Gate().Authorize(late[:]))

	// Adding a key to the file has no effect without a restart
	require.NoError(t, os.WriteFile(cfg.Whitelist, []byte(member.String()+"\n"+late.String()+"\n"), 0644))
	assert.False(t, d.Gate().Authorize(late[:]))
	assert.Equal(t, 1, d.Gate().Whitelist().Len())
}

func TestBootstrapFailureCanRetry(t *testing.T) {
	resetBootstrap()
	t.Cleanup(resetBootstrap)

	cfg := bootConfig(t, config.ModeMock)
	missing := cfg
	missing.Whitelist = filepath.Join(t.TempDir(), "absent.txt")
	_, err := Bootstrap(missing, WithLogger(zaptest.NewLogger(t)))
	require.Error(t, err)
	assert.Equal(t, StateUninitialized, Default().State())

	bad := cfg
	bad.Enclave.Mode = "sgx-v9"
	_, err = Bootstrap(bad)
	require.Error(t, err)

	_, err = Bootstrap(cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
}

func TestBootstrapMockServesCounter(t *testing.T) {
	resetBootstrap()
	t.Cleanup(resetBootstrap)

	d, err := Bootstrap(bootConfig(t, config.ModeMock), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	checksum, err := d.StoreCode(mock.CounterCode)
	require.NoError(t, err)

	store := memory.NewStore()
	req := Request{
		Checksum: checksum,
		Store:    store,
		Env:      []byte(testEnv),
		Info:     info("alice"),
		Msg:      []byte(`{"count":41}`),
		GasLimit: gasLimit,
	}
	_, _, err = d.Instantiate(req)
	require.NoError(t, err)

	req.Msg = []byte(`{"increment":{}}`)
	res, _, err := d.Execute(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":42}`, string(res.Data))
}

func TestBootstrapWazero(t *testing.T) {
	resetBootstrap()
	t.Cleanup(resetBootstrap)

	cfg := bootConfig(t, config.ModeWazero)
	cfg.Enclave.Path = ""
	d, err := Bootstrap(cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	assert.Equal(t, [32]byte{}, d.Measurement())

	_, err = d.AnalyzeCode([]byte("not wasm"))
	require.Error(t, err)
}
