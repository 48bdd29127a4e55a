package objectstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process. It backs the "memory" storage backend
// and tests; the hooks let callers inject failures per key.
type MemoryStore struct {
	mu         sync.Mutex
	objects    map[string]memoryObject
	publicBase string
	puts       int
	deletes    int

	PutHook    func(key string) error
	DeleteHook func(key string) error
}

func NewMemoryStore(publicBase string) *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject), publicBase: publicBase}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++
	if m.PutHook != nil {
		if err := m.PutHook(key); err != nil {
			return err
		}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = memoryObject{data: cp, contentType: contentType}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes++
	if m.DeleteHook != nil {
		if err := m.DeleteHook(key); err != nil {
			return err
		}
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) PublicURL(key string) string {
	return joinURL(m.publicBase, key)
}

// Keys returns the stored keys in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStore) ContentType(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key].contentType
}

// Puts counts Put calls, failed ones included.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *MemoryStore) Deletes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}
