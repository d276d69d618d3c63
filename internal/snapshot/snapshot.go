// Package snapshot captures and restores the governed working set around
// mutating actions. Backends implement the two-method storage contract; the
// manager adds per-action idempotence. Nothing here touches the trust
// ledger, so snapshot I/O never runs under the trust lock.
package snapshot

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warden-project/warden/internal/action"
)

// Ref identifies one stored snapshot.
type Ref struct {
	ID        string    `json:"id"`
	ActionID  string    `json:"action_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ShortID returns an abbreviated id for logs and CLI output.
func (r Ref) ShortID() string {
	if len(r.ID) > 13 {
		return r.ID[:13]
	}
	return r.ID
}

// Backend stores and restores working-set state. Implementations must make
// Restore atomic: after a failed restore the working set still holds its
// pre-restore content.
type Backend interface {
	Snapshot(ctx context.Context, actionID string) (Ref, error)
	Restore(ctx context.Context, ref Ref) (*action.RollbackResult, error)
}

// NewID builds a sortable snapshot id: millisecond timestamp plus random
// suffix.
func NewID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%08x", time.Now().UnixMilli(), b)
}

// Manager fronts a backend with per-action idempotence: repeated Create
// calls for one action return the same ref instead of stacking snapshots.
type Manager struct {
	backend Backend
	logger  *zap.Logger

	mu       sync.Mutex
	byAction map[string]Ref
}

// NewManager wraps a backend. logger may be nil.
func NewManager(b Backend, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		backend:  b,
		logger:   logger,
		byAction: make(map[string]Ref),
	}
}

// Create snapshots the working set for an action. A second call for the
// same action returns the first ref.
func (m *Manager) Create(ctx context.Context, actionID string) (Ref, error) {
	m.mu.Lock()
	if ref, ok := m.byAction[actionID]; ok {
		m.mu.Unlock()
		return ref, nil
	}
	m.mu.Unlock()

	ref, err := m.backend.Snapshot(ctx, actionID)
	if err != nil {
		return Ref{}, err
	}

	m.mu.Lock()
	m.byAction[actionID] = ref
	m.mu.Unlock()

	m.logger.Debug("snapshot created",
		zap.String("snapshot", ref.ShortID()),
		zap.String("action_id", actionID))
	return ref, nil
}

// RefFor returns the snapshot ref recorded for an action, if any.
func (m *Manager) RefFor(actionID string) (Ref, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.byAction[actionID]
	return ref, ok
}

// Restore rolls the working set back to a snapshot.
func (m *Manager) Restore(ctx context.Context, ref Ref) (*action.RollbackResult, error) {
	res, err := m.backend.Restore(ctx, ref)
	if err != nil {
		m.logger.Error("restore failed",
			zap.String("snapshot", ref.ShortID()),
			zap.Error(err))
		return nil, err
	}
	m.logger.Info("restore completed",
		zap.String("snapshot", ref.ShortID()),
		zap.Int("files", res.Files))
	return res, nil
}
