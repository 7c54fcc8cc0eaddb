package snapshot

import (
	"context"
	"sync"
)

// Compile-time check
var _ Sink = (*MemorySink)(nil)

// MemorySink keeps snapshots in memory. URIs have the form mem://key.
type MemorySink struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{objects: make(map[string][]byte)}
}

func (m *MemorySink) Put(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func (m *MemorySink) Get(_ context.Context, uri string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(uri) < 6 || uri[:6] != "mem://" {
		return nil, ErrNotFound
	}
	b, ok := m.objects[uri[6:]]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

// URIs returns the URIs of every stored snapshot.
func (m *MemorySink) URIs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, "mem://"+k)
	}
	return out
}
