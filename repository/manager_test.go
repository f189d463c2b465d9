package repository

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/govm-net/teebridge/types"
)

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m, dir
}

func TestStoreAndGetCode(t *testing.T) {
	m, dir := newManager(t)
	code := []byte("\x00asm fake code")
	report := &types.AnalysisReport{InterfaceVersion: "v1", EntryPoints: []string{"instantiate"}}

	checksum, err := m.StoreCode(code, report)
	require.NoError(t, err)
	assert.Equal(t, types.Checksum(sha256.Sum256(code)), checksum)

	// 验证文件是否创建
	codeDir := filepath.Join(dir, checksum.String())
	assert.FileExists(t, filepath.Join(codeDir, codeFile))
	assert.FileExists(t, filepath.Join(codeDir, metadataFile))

	got, err := m.GetCode(checksum)
	require.NoError(t, err)
	assert.Equal(t, code, got.Code)
	assert.Equal(t, report, got.Report)
	assert.False(t, got.UpdateTime.IsZero())

	again, err := m.StoreCode(code, nil)
	require.NoError(t, err)
	assert.Equal(t, checksum, again)

	codes, err := m.ListCodes()
	require.NoError(t, err)
	assert.Equal(t, []types.Checksum{checksum}, codes)
}

func TestGetCodeErrors(t *testing.T) {
	m, dir := newManager(t)

	_, err := m.GetCode(types.Checksum{1})
	assert.ErrorIs(t, err, ErrCodeNotFound)

	checksum, err := m.StoreCode([]byte("code"), nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, checksum.String(), codeFile), []byte("tampered"), 0644))
	_, err = m.GetCode(checksum)
	assert.ErrorContains(t, err, "corrupted")
}

func TestRemoveCode(t *testing.T) {
	m, _ := newManager(t)
	checksum, err := m.StoreCode([]byte("code"), nil)
	require.NoError(t, err)

	require.NoError(t, m.SaveInstance(Instance{Address: "secret1abc", CodeChecksum: checksum}))
	assert.ErrorIs(t, m.RemoveCode(checksum), ErrCodeInUse)

	other, err := m.StoreCode([]byte("other"), nil)
	require.NoError(t, err)
	require.NoError(t, m.UpdateInstanceCode("secret1abc", other))

	require.NoError(t, m.RemoveCode(checksum))
	assert.False(t, m.HasCode(checksum))
	assert.ErrorIs(t, m.RemoveCode(checksum), ErrCodeNotFound)
}

func TestInstances(t *testing.T) {
	m, _ := newManager(t)
	checksum, err := m.StoreCode([]byte("code"), nil)
	require.NoError(t, err)

	require.NoError(t, m.SaveInstance(Instance{Address: "secret1abc", CodeChecksum: checksum, Admin: "alice", Label: "counter"}))
	assert.ErrorIs(t, m.SaveInstance(Instance{Address: "secret1abc"}), ErrInstanceExists)

	inst, err := m.Instance("secret1abc")
	require.NoError(t, err)
	assert.Equal(t, checksum, inst.CodeChecksum)
	assert.Equal(t, "counter", inst.Label)

	ok, err := m.CanMigrate("secret1abc", "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.CanMigrate("secret1abc", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.SaveInstance(Instance{Address: "secret1noadmin", CodeChecksum: checksum}))
	ok, err = m.CanMigrate("secret1noadmin", "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Instance("secret1missing")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
	_, err = m.Instance("../escape")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestManagerSurvivesRestart(t *testing.T) {
	m, dir := newManager(t)
	checksum, err := m.StoreCode([]byte("code"), nil)
	require.NoError(t, err)
	require.NoError(t, m.SaveInstance(Instance{Address: "a1", CodeChecksum: checksum, Admin: "alice"}))

	reopened, err := NewManager(dir, nil)
	require.NoError(t, err)
	assert.True(t, reopened.HasCode(checksum))
	inst, err := reopened.Instance("a1")
	require.NoError(t, err)
	assert.Equal(t, "alice", inst.Admin)
}
