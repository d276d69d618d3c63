// Package handler implements the closed table of action handlers. A handler
// does the domain work for one action type and reports pass or fail; trust,
// snapshots, audit and events are the executor's business, not the
// handler's.
package handler

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
)

// Handler runs one action type.
type Handler interface {
	Name() string
	Description() string
	Validate(p action.Params) error
	Execute(ctx context.Context, act *action.Action) (string, error)
}

// Registry is the handler table. It is populated at startup and read-only
// afterwards; executing a contracted type with no handler here is a
// distinct "not implemented" failure, never a silent skip.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty handler table.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler, replacing any previous handler for the type.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Lookup finds the handler for an action type.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists registered action types in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Workspace confines file handlers to a root directory. Every path in the
// params resolves inside it; anything that escapes is rejected before I/O.
type Workspace struct {
	Root string
}

// Resolve joins a params path onto the root and rejects escapes.
func (w Workspace) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errclass.ErrInvalidParams.WithMessage("empty path")
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(w.Root, full)
	}
	full = filepath.Clean(full)
	root := filepath.Clean(w.Root)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", errclass.ErrInvalidParams.WithMessagef("path %q escapes the workspace", p)
	}
	return full, nil
}
