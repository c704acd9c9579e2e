package store

import (
	"context"
	"sync"
)

// Memory 进程内存储，用于测试和不需要持久化的场景
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
	// Down 为 true 时模拟后端不可用
	Down bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Down {
		return nil, ErrUnavailable
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Down {
		return ErrUnavailable
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Down {
		return ErrUnavailable
	}
	return nil
}

func (m *Memory) Close() error { return nil }
