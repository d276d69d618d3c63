package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/warden-project/warden/internal/action"
)

// MemBackend is an in-memory Backend for tests: the "working set" is a
// path-to-bytes map mutated through Put/Delete, and snapshots are deep
// copies of it. Failure injection covers both methods.
type MemBackend struct {
	mu    sync.Mutex
	state map[string][]byte
	snaps map[string]map[string][]byte

	SnapshotErr error
	RestoreErr  error

	SnapshotCalls int
	RestoreCalls  int
}

// NewMemBackend returns an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		state: make(map[string][]byte),
		snaps: make(map[string]map[string][]byte),
	}
}

// Put writes a file into the working set.
func (m *MemBackend) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[path] = append([]byte(nil), data...)
}

// Delete removes a file from the working set.
func (m *MemBackend) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, path)
}

// Get reads a file from the working set.
func (m *MemBackend) Get(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.state[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Snapshot deep-copies the working set.
func (m *MemBackend) Snapshot(ctx context.Context, actionID string) (Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SnapshotCalls++
	if m.SnapshotErr != nil {
		return Ref{}, m.SnapshotErr
	}
	id := NewID()
	copied := make(map[string][]byte, len(m.state))
	for k, v := range m.state {
		copied[k] = append([]byte(nil), v...)
	}
	m.snaps[id] = copied
	return Ref{ID: id, ActionID: actionID, CreatedAt: time.Now().UTC()}, nil
}

// Restore replaces the working set with a snapshot's copy.
func (m *MemBackend) Restore(ctx context.Context, ref Ref) (*action.RollbackResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RestoreCalls++
	if m.RestoreErr != nil {
		return nil, m.RestoreErr
	}
	snap, ok := m.snaps[ref.ID]
	if !ok {
		return nil, &notFoundError{id: ref.ID}
	}
	restored := make(map[string][]byte, len(snap))
	for k, v := range snap {
		restored[k] = append([]byte(nil), v...)
	}
	m.state = restored
	return &action.RollbackResult{
		Success:     true,
		RollbackID:  NewID(),
		RestoredRef: ref.ID,
		Files:       len(restored),
	}, nil
}

type notFoundError struct{ id string }

func (e *notFoundError) Error() string {
	return "snapshot " + e.id + " not found"
}
