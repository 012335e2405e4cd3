package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryObjectStore keeps revisions in-process for tests.
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string]map[string][]byte // key -> revisionID -> data
	nextRev int
}

// NewMemoryObjectStore constructs an empty memory store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]map[string][]byte)}
}

func (m *MemoryObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRev++
	rev := fmt.Sprintf("rev-%d", m.nextRev)
	if m.objects[key] == nil {
		m.objects[key] = make(map[string][]byte)
	}
	m.objects[key][rev] = data
	return rev, nil
}

// Get returns a revision; an empty revisionID means the latest one, matching
// S3 semantics.
func (m *MemoryObjectStore) Get(_ context.Context, key, revisionID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	revs, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	if revisionID == "" {
		best := ""
		for rev := range revs {
			if best == "" || revNum(rev) > revNum(best) {
				best = rev
			}
		}
		revisionID = best
	}
	data, ok := revs[revisionID]
	if !ok {
		return nil, fmt.Errorf("object %s revision %s not found", key, revisionID)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryObjectStore) Delete(_ context.Context, key, revisionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	revs, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("object %s not found", key)
	}
	if _, ok := revs[revisionID]; !ok {
		return fmt.Errorf("object %s revision %s not found", key, revisionID)
	}
	delete(revs, revisionID)
	return nil
}

func (m *MemoryObjectStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	revs, ok := m.objects[key]
	return ok && len(revs) > 0, nil
}

func revNum(rev string) int {
	var n int
	_, _ = fmt.Sscanf(rev, "rev-%d", &n)
	return n
}

// Has reports whether a specific revision is still stored. Test helper.
func (m *MemoryObjectStore) Has(key, revisionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	revs, ok := m.objects[key]
	if !ok {
		return false
	}
	_, ok = revs[revisionID]
	return ok
}
