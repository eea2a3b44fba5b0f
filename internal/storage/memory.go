package storage

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It also records dispatches so tests can inspect them.
type Memory struct {
	mu         sync.Mutex
	kv         map[string]string
	dispatches []DispatchRecord
	closed     bool
}

func NewMemory() *Memory {
	return &Memory{kv: map[string]string{}}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.kv[key] = value
	return nil
}

func (m *Memory) AppendDispatch(ctx context.Context, r DispatchRecord) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.dispatches = append(m.dispatches, r)
	return nil
}

// Dispatches returns a copy of the recorded dispatch log.
func (m *Memory) Dispatches() []DispatchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DispatchRecord(nil), m.dispatches...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
