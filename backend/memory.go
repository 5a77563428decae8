package backend

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Memory keeps containers in process memory. It is safe for concurrent use.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{m: make(map[string][]byte)}
}

// Load returns a copy of the stored bytes.
func (m *Memory) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.m[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotExist, "memory resource %q", name)
	}
	return append([]byte(nil), data...), nil
}

// Save stores a copy of data.
func (m *Memory) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.m[name] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}
