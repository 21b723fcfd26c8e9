package tokenstore

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps the record in process memory only.
type MemoryStore struct {
	mu     sync.Mutex
	record Record
}

// Compile-time check to ensure MemoryStore implements Backend
var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore seeded with the given record (may be nil).
func NewMemoryStore(seed Record) *MemoryStore {
	return &MemoryStore{record: seed.compact()}
}

func (m *MemoryStore) Read(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.record), nil
}

func (m *MemoryStore) Write(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = record.compact()
	return nil
}
