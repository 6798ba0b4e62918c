package state

import (
	"context"
	"errors"
	"sync"
)

// Store errors.
var (
	// ErrNoSnapshot indicates no snapshot has been committed yet.
	ErrNoSnapshot = errors.New("no snapshot committed")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("state store is closed")
)

// Store persists snapshots. Implementations append; they never rewrite a
// committed record. A snapshot is committed once Save returns nil.
type Store interface {
	// Save durably appends a snapshot.
	Save(ctx context.Context, s *Snapshot) error
	// Latest returns the most recently committed snapshot, or ErrNoSnapshot.
	Latest(ctx context.Context) (*Snapshot, error)
	// Reset discards all committed snapshots.
	Reset(ctx context.Context) error
	// Close releases resources held by the store.
	Close() error
}

// MemoryStore keeps snapshots in memory. Used by tests and by hosts that
// manage their own durability.
type MemoryStore struct {
	mu     sync.Mutex
	log    []*Snapshot
	closed bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(ctx context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.log = append(m.log, s.clone())
	return nil
}

func (m *MemoryStore) Latest(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if len(m.log) == 0 {
		return nil, ErrNoSnapshot
	}
	return m.log[len(m.log)-1].clone(), nil
}

func (m *MemoryStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.log = nil
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// History returns all committed snapshots, oldest first. Test helper.
func (m *MemoryStore) History() []*Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Snapshot(nil), m.log...)
}
