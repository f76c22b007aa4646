package annotation

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Source. Values are lost on restart.
type Memory struct {
	mu     sync.RWMutex
	values map[string]map[string]int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]map[string]int64)}
}

func (m *Memory) GetInt(_ context.Context, uri, name string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name][uri]
	return v, ok, nil
}

func (m *Memory) RecencySet(_ context.Context, name string) (map[string]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]time.Time, len(m.values[name]))
	for uri, v := range m.values[name] {
		out[uri] = time.Unix(v, 0)
	}
	return out, nil
}

func (m *Memory) IntSet(_ context.Context, name string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.values[name]))
	for uri, v := range m.values[name] {
		out[uri] = v
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, uri, name string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket(name)[uri] = value
	return nil
}

func (m *Memory) Increment(_ context.Context, uri, name string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket(name)[uri] += delta
	return nil
}

func (m *Memory) bucket(name string) map[string]int64 {
	b, ok := m.values[name]
	if !ok {
		b = make(map[string]int64)
		m.values[name] = b
	}
	return b
}
