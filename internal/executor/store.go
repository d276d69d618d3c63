package executor

import (
	"sync"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status action.Status
	Type   string
	Actor  string
	Limit  int
}

// Store is the shared action table, keyed by action id. Callers only ever
// see clones; the stored records mutate exclusively through Update, which
// holds the table lock for the duration of the callback. The in-flight set
// on top gives each action at most one executing driver at a time.
type Store struct {
	mu       sync.RWMutex
	actions  map[string]*action.Action
	order    []string
	inflight map[string]struct{}
}

// NewStore returns an empty action table.
func NewStore() *Store {
	return &Store{
		actions:  make(map[string]*action.Action),
		inflight: make(map[string]struct{}),
	}
}

// Put records a new action. An existing id is overwritten; ids come from
// uuid so that only happens when a caller re-puts deliberately.
func (s *Store) Put(act *action.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[act.ID]; !ok {
		s.order = append(s.order, act.ID)
	}
	s.actions[act.ID] = act.Clone()
}

// Get returns a clone of the action, or false if the id is unknown.
func (s *Store) Get(id string) (*action.Action, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	act, ok := s.actions[id]
	if !ok {
		return nil, false
	}
	return act.Clone(), true
}

// Resolve expands an id or unique id prefix to the full action id. Exact
// matches win, so a full id resolves even if it happens to prefix another.
func (s *Store) Resolve(ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.actions[ref]; ok {
		return ref, nil
	}
	var found string
	for id := range s.actions {
		if len(ref) > 0 && len(ref) < len(id) && id[:len(ref)] == ref {
			if found != "" {
				return "", errclass.ErrInvalidParams.WithMessagef("ambiguous action ref %s", ref)
			}
			found = id
		}
	}
	if found == "" {
		return "", errclass.ErrActionNotFound.WithMessagef("unknown action %s", ref)
	}
	return found, nil
}

// Update mutates one stored action under the table lock and returns a clone
// of the result. If fn returns an error the stored record keeps whatever fn
// left behind, so callbacks must mutate only after their checks pass.
func (s *Store) Update(id string, fn func(*action.Action) error) (*action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	act, ok := s.actions[id]
	if !ok {
		return nil, errclass.ErrActionNotFound.WithMessagef("unknown action %s", id)
	}
	if err := fn(act); err != nil {
		return nil, err
	}
	return act.Clone(), nil
}

// List returns clones of matching actions, newest first.
func (s *Store) List(f Filter) []*action.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*action.Action, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		act := s.actions[s.order[i]]
		if f.Status != "" && act.Status != f.Status {
			continue
		}
		if f.Type != "" && act.Type != f.Type {
			continue
		}
		if f.Actor != "" && act.Metadata.Actor != f.Actor {
			continue
		}
		out = append(out, act.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Len reports how many actions the table holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actions)
}

// begin claims the executing slot for an action. It returns false if some
// other driver already holds it.
func (s *Store) begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

// end releases the executing slot.
func (s *Store) end(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}
