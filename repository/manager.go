// Package repository 管理合约代码与实例元数据
package repository

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/govm-net/teebridge/types"
)

const (
	codeFile     = "code.wasm"
	metadataFile = "metadata.json"
	instancesDir = "instances"
)

var (
	ErrCodeNotFound     = errors.New("code not found")
	ErrCodeInUse        = errors.New("code is referenced by an instance")
	ErrInstanceNotFound = errors.New("instance not found")
	ErrInstanceExists   = errors.New("instance already exists")
	ErrInvalidAddress   = errors.New("invalid instance address")
)

var addressPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Manager 代码管理器
//
// 代码按 sha256 存放在 <root>/<hex>/，实例记录存放在 <root>/instances/<address>.json。
type Manager struct {
	mu      sync.RWMutex
	rootDir string // 代码根目录
	logger  *zap.Logger
}

// ContractCode 合约代码信息
type ContractCode struct {
	Checksum   types.Checksum
	Code       []byte
	Report     *types.AnalysisReport
	UpdateTime time.Time
}

// ContractMetadata 合约元数据
type ContractMetadata struct {
	Checksum   types.Checksum        `json:"checksum"`
	Size       int                   `json:"size"`
	UpdateTime time.Time             `json:"update_time"`
	Report     *types.AnalysisReport `json:"report,omitempty"`
}

// Instance 合约实例，由宿主在 instantiate 时提供
type Instance struct {
	Address      string         `json:"address"`
	CodeChecksum types.Checksum `json:"code_checksum"`
	Admin        string         `json:"admin,omitempty"`
	Label        string         `json:"label,omitempty"`
	Created      time.Time      `json:"created"`
	Updated      time.Time      `json:"updated"`
}

// NewManager 创建代码管理器
func NewManager(rootDir string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// 确保根目录存在
	if err := os.MkdirAll(filepath.Join(rootDir, instancesDir), 0755); err != nil {
		logger.Error("failed to create root directory", zap.String("dir", rootDir), zap.Error(err))
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &Manager{rootDir: rootDir, logger: logger.Named("repository")}, nil
}

// StoreCode 保存合约代码，重复保存相同代码返回同一个 checksum
func (m *Manager) StoreCode(code []byte, report *types.AnalysisReport) (types.Checksum, error) {
	checksum := types.Checksum(sha256.Sum256(code))

	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.codeDir(checksum)
	if _, err := os.Stat(filepath.Join(dir, codeFile)); err == nil {
		return checksum, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return checksum, fmt.Errorf("failed to create code directory: %w", err)
	}

	metadata := ContractMetadata{
		Checksum:   checksum,
		Size:       len(code),
		UpdateTime: time.Now().UTC(),
		Report:     report,
	}
	if err := m.writeCode(dir, code, metadata); err != nil {
		// 删除已创建的目录
		os.RemoveAll(dir)
		return checksum, err
	}
	m.logger.Info("stored code", zap.Stringer("checksum", checksum), zap.Int("size", len(code)))
	return checksum, nil
}

func (m *Manager) writeCode(dir string, code []byte, metadata ContractMetadata) error {
	metadataBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, metadataFile), metadataBytes); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	// 代码文件最后写入，它的存在表示保存完成
	if err := writeFileAtomic(filepath.Join(dir, codeFile), code); err != nil {
		return fmt.Errorf("failed to save code: %w", err)
	}
	return nil
}

// GetCode 获取合约代码
func (m *Manager) GetCode(checksum types.Checksum) (*ContractCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dir := m.codeDir(checksum)
	code, err := os.ReadFile(filepath.Join(dir, codeFile))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrCodeNotFound, checksum)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read code: %w", err)
	}
	if types.Checksum(sha256.Sum256(code)) != checksum {
		return nil, fmt.Errorf("code %s is corrupted", checksum)
	}

	metadataBytes, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var metadata ContractMetadata
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &ContractCode{
		Checksum:   checksum,
		Code:       code,
		Report:     metadata.Report,
		UpdateTime: metadata.UpdateTime,
	}, nil
}

func (m *Manager) HasCode(checksum types.Checksum) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := os.Stat(filepath.Join(m.codeDir(checksum), codeFile))
	return err == nil
}

// RemoveCode 删除合约代码，被实例引用的代码不能删除
func (m *Manager) RemoveCode(checksum types.Checksum) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.codeDir(checksum)
	if _, err := os.Stat(filepath.Join(dir, codeFile)); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrCodeNotFound, checksum)
	}
	instances, err := m.listInstances()
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if inst.CodeChecksum == checksum {
			return fmt.Errorf("%w: %s", ErrCodeInUse, inst.Address)
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove code: %w", err)
	}
	m.logger.Info("removed code", zap.Stringer("checksum", checksum))
	return nil
}

// ListCodes 返回所有已保存代码的 checksum，按字典序
func (m *Manager) ListCodes() ([]types.Checksum, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list codes: %w", err)
	}
	var out []types.Checksum
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if c, ok := types.ChecksumFromString(e.Name()); ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// SaveInstance 创建合约实例记录
func (m *Manager) SaveInstance(inst Instance) error {
	if !addressPattern.MatchString(inst.Address) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, inst.Address)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.instancePath(inst.Address)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrInstanceExists, inst.Address)
	}
	now := time.Now().UTC()
	if inst.Created.IsZero() {
		inst.Created = now
	}
	inst.Updated = now
	return m.writeInstance(inst)
}

// Instance 读取合约实例
func (m *Manager) Instance(addr string) (*Instance, error) {
	if !addressPattern.MatchString(addr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readInstance(m.instancePath(addr))
}

// UpdateInstanceCode 替换实例的代码引用，migrate 成功后调用
func (m *Manager) UpdateInstanceCode(addr string, checksum types.Checksum) error {
	if !addressPattern.MatchString(addr) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, err := m.readInstance(m.instancePath(addr))
	if err != nil {
		return err
	}
	inst.CodeChecksum = checksum
	inst.Updated = time.Now().UTC()
	return m.writeInstance(*inst)
}

// CanMigrate 只有实例的 admin 可以 migrate，没有 admin 的实例不可 migrate
func (m *Manager) CanMigrate(addr, sender string) (bool, error) {
	inst, err := m.Instance(addr)
	if err != nil {
		return false, err
	}
	return inst.Admin != "" && inst.Admin == sender, nil
}

func (m *Manager) listInstances() ([]*Instance, error) {
	entries, err := os.ReadDir(filepath.Join(m.rootDir, instancesDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	var out []*Instance
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		inst, err := m.readInstance(filepath.Join(m.rootDir, instancesDir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func (m *Manager) readInstance(path string) (*Instance, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read instance: %w", err)
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}
	return &inst, nil
}

func (m *Manager) writeInstance(inst Instance) error {
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	if err := writeFileAtomic(m.instancePath(inst.Address), data); err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	return nil
}

func (m *Manager) codeDir(checksum types.Checksum) string {
	return filepath.Join(m.rootDir, checksum.String())
}

func (m *Manager) instancePath(addr string) string {
	return filepath.Join(m.rootDir, instancesDir, addr+".json")
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
