// Copyright 2026 Marcelo Cantos
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"sync"
	"time"

	"github.com/warden-project/warden/internal/errclass"
)

// DefaultConfirmTTL bounds how long an approved action waits for its
// execute call.
const DefaultConfirmTTL = 10 * time.Minute

// PendingEntry holds metadata for an action awaiting confirmation.
type PendingEntry struct {
	ActionID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PendingStore tracks approved-but-unconfirmed actions. Each entry is
// single-use: Take consumes it whether or not it is still valid, so a
// confirmation can never be replayed.
type PendingStore struct {
	mu      sync.Mutex
	pending map[string]*PendingEntry
	ttl     time.Duration
}

// NewPendingStore creates a store; a non-positive ttl uses the default.
func NewPendingStore(ttl time.Duration) *PendingStore {
	if ttl <= 0 {
		ttl = DefaultConfirmTTL
	}
	return &PendingStore{
		pending: make(map[string]*PendingEntry),
		ttl:     ttl,
	}
}

// Put registers an approved action as awaiting confirmation.
func (s *PendingStore) Put(actionID string) *PendingEntry {
	now := time.Now()
	entry := &PendingEntry{
		ActionID:  actionID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.pending[actionID] = entry
	s.mu.Unlock()
	return entry
}

// Take consumes the pending entry for an action. It fails for unknown ids
// and for entries whose confirmation window has lapsed.
func (s *PendingStore) Take(actionID string) (*PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[actionID]
	if !ok {
		return nil, errclass.ErrConfirmExpired.WithMessage("no pending confirmation for action")
	}

	// Delete immediately — single use regardless of outcome.
	delete(s.pending, actionID)

	if time.Now().After(entry.ExpiresAt) {
		return nil, errclass.ErrConfirmExpired.WithMessage("confirmation window lapsed")
	}

	return entry, nil
}

// Len reports how many actions are awaiting confirmation.
func (s *PendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Purge removes all expired entries from the store.
func (s *PendingStore) Purge() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.pending {
		if now.After(entry.ExpiresAt) {
			delete(s.pending, id)
		}
	}
}
