package runlog

import (
	"fmt"
	"sync"
)

// MemoryBackend implements Backend in process memory. Used in tests and
// when the caller opts out of a persistent manifest.
type MemoryBackend struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[string]map[string][]byte)}
}

func (m *MemoryBackend) CreateBucket(name []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[string(name)]; !ok {
		m.buckets[string(name)] = make(map[string][]byte)
	}
	return nil
}

func (m *MemoryBackend) Put(bucket, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bkt, ok := m.buckets[string(bucket)]
	if !ok {
		return fmt.Errorf("bucket not found: %s", bucket)
	}
	v := make([]byte, len(value))
	copy(v, value)
	bkt[string(key)] = v
	return nil
}

func (m *MemoryBackend) Get(bucket, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bkt, ok := m.buckets[string(bucket)]
	if !ok {
		return nil, fmt.Errorf("bucket not found: %s", bucket)
	}
	v, ok := bkt[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryBackend) Delete(bucket, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bkt, ok := m.buckets[string(bucket)]
	if !ok {
		return fmt.Errorf("bucket not found: %s", bucket)
	}
	delete(bkt, string(key))
	return nil
}

func (m *MemoryBackend) ForEach(bucket []byte, fn func(k, v []byte) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bkt, ok := m.buckets[string(bucket)]
	if !ok {
		return fmt.Errorf("bucket not found: %s", bucket)
	}
	for k, v := range bkt {
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
