package plantio

import (
	"context"
	"errors"
	"sync"
)

var ErrDisconnected = errors.New("PLC link down")

// MemoryBus keeps tags in memory. It backs the "memory" PLC driver and the tests.
type MemoryBus struct {
	mu        sync.RWMutex
	tags      map[string]int
	writes    map[string]int
	connected bool
}

// NewMemoryBus 创建内存标签总线, 初始为已连接
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		tags:      make(map[string]int),
		writes:    make(map[string]int),
		connected: true,
	}
}

// SetConnected simulates the link going down or coming back.
func (m *MemoryBus) SetConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

// Set stores a tag as the PLC would.
func (m *MemoryBus) Set(name string, value int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[name] = value
}

// Get returns a tag regardless of link state.
func (m *MemoryBus) Get(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tags[name]
}

// Writes returns how many times name was written by the cell.
func (m *MemoryBus) Writes(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[name]
}

func (m *MemoryBus) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MemoryBus) WriteTag(ctx context.Context, name string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrDisconnected
	}
	m.tags[name] = value
	m.writes[name]++
	return nil
}

func (m *MemoryBus) ReadTag(ctx context.Context, name string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return 0, ErrDisconnected
	}
	return m.tags[name], nil
}
