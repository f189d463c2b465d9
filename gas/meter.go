// Package gas meters the cost of a single dispatcher call.
package gas

import (
	"math"
	"sync"

	"github.com/govm-net/teebridge/errors"
)

// Meter tracks gas for one call. Consumed never exceeds the limit: an
// overflowing charge pins consumption at the limit and aborts the call by
// panicking with an OutOfGas *errors.Error, which errors.Capture passes
// through unchanged.
type Meter struct {
	mu       sync.RWMutex
	limit    uint64
	consumed uint64
}

// NewMeter 创建一个限额为limit的计量器
func NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit}
}

// ConsumeGas charges amount. It panics when the limit would be exceeded.
func (m *Meter) ConsumeGas(amount uint64, descriptor string) {
	if err := m.TryConsumeGas(amount, descriptor); err != nil {
		panic(err)
	}
}

// TryConsumeGas is ConsumeGas returning the OutOfGas error instead of panicking.
func (m *Meter) TryConsumeGas(amount uint64, descriptor string) *errors.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount == 0 {
		return nil
	}

	if amount > m.limit-m.consumed {
		m.consumed = m.limit
		return errors.OutOfGas(m.limit, descriptor)
	}

	m.consumed += amount
	return nil
}

// GasConsumed 获取已使用的gas
func (m *Meter) GasConsumed() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consumed
}

// Limit 获取gas上限
func (m *Meter) Limit() uint64 {
	return m.limit
}

// Remaining 获取剩余gas
func (m *Meter) Remaining() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limit - m.consumed
}

// IsOutOfGas reports whether the limit has been reached.
func (m *Meter) IsOutOfGas() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consumed >= m.limit
}

// Mul multiplies without wrapping, saturating at MaxUint64.
func Mul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}

// Add adds without wrapping, saturating at MaxUint64.
func Add(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
