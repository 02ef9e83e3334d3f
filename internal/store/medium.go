package store

import (
	"context"
	"sync"
)

// DocumentKey names the single document that holds all local state.
const DocumentKey = "designhaus_db"

// Medium persists the local document as an opaque blob.
type Medium interface {
	// Load returns the stored document and its revision. An empty medium
	// returns nil data and revision 0.
	Load(ctx context.Context) ([]byte, int64, error)

	// Revision returns the revision of the stored document without reading it.
	Revision(ctx context.Context) (int64, error)

	// Update runs fn on the current document and stores its result within one
	// transaction. If fn returns an error nothing is written.
	Update(ctx context.Context, fn func(current []byte) ([]byte, error)) (int64, error)

	// Close releases the medium.
	Close() error
}

// MemoryMedium keeps the document in process memory.
type MemoryMedium struct {
	mu       sync.Mutex
	data     []byte
	revision int64
}

// NewMemoryMedium creates an empty in-memory medium.
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{}
}

func (m *MemoryMedium) Load(_ context.Context) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), m.revision, nil
}

func (m *MemoryMedium) Revision(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision, nil
}

func (m *MemoryMedium) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fn(append([]byte(nil), m.data...))
	if err != nil {
		return m.revision, err
	}
	m.data = next
	m.revision++
	return m.revision, nil
}

func (m *MemoryMedium) Close() error { return nil }
