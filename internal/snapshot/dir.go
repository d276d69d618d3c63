package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/fsutil"
)

const readyMarker = ".READY"

type manifest struct {
	ID        string    `json:"id"`
	ActionID  string    `json:"action_id"`
	CreatedAt time.Time `json:"created_at"`
	Files     int       `json:"files"`
	TreeHash  string    `json:"tree_hash"`
}

// DirBackend snapshots a working-set directory into a state directory.
// Layout per snapshot:
//
//	<state>/snapshots/<id>/payload/...   copied tree
//	<state>/snapshots/<id>/manifest.json
//	<state>/snapshots/<id>/.READY        written last; absent means partial
//
// A snapshot whose tree hash equals the previous one is not duplicated; the
// existing ref is returned.
type DirBackend struct {
	root   string
	state  string
	logger *zap.Logger

	lastHash string
	lastRef  Ref
}

// NewDirBackend creates root and state directories as needed and primes the
// dedup cache from the newest complete snapshot on disk.
func NewDirBackend(root, state string, logger *zap.Logger) (*DirBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range []string{root, filepath.Join(state, "snapshots")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("snapshot backend init: %w", err)
		}
	}
	b := &DirBackend{root: root, state: state, logger: logger}
	b.primeCache()
	return b, nil
}

// Root returns the governed working-set directory.
func (b *DirBackend) Root() string {
	return b.root
}

func (b *DirBackend) snapshotDir(id string) string {
	return filepath.Join(b.state, "snapshots", id)
}

func (b *DirBackend) primeCache() {
	entries, err := os.ReadDir(filepath.Join(b.state, "snapshots"))
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	// Ids sort chronologically: millisecond prefix.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names {
		dir := b.snapshotDir(name)
		if _, err := os.Stat(filepath.Join(dir, readyMarker)); err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
		if err != nil {
			continue
		}
		var m manifest
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		b.lastHash = m.TreeHash
		b.lastRef = Ref{ID: m.ID, ActionID: m.ActionID, CreatedAt: m.CreatedAt}
		return
	}
}

// Snapshot copies the working set aside and marks it complete.
func (b *DirBackend) Snapshot(ctx context.Context, actionID string) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}

	treeHash, err := hashTree(b.root)
	if err != nil {
		return Ref{}, fmt.Errorf("hash working set: %w", err)
	}
	if treeHash == b.lastHash && b.lastRef.ID != "" {
		b.logger.Debug("working set unchanged, reusing snapshot",
			zap.String("snapshot", b.lastRef.ShortID()))
		return b.lastRef, nil
	}

	id := NewID()
	dir := b.snapshotDir(id)
	payload := filepath.Join(dir, "payload")
	if err := os.MkdirAll(payload, 0o755); err != nil {
		return Ref{}, fmt.Errorf("create snapshot dir: %w", err)
	}

	files, err := fsutil.CopyTree(b.root, payload)
	if err != nil {
		os.RemoveAll(dir)
		return Ref{}, fmt.Errorf("copy working set: %w", err)
	}
	if err := fsutil.FsyncTree(payload); err != nil {
		os.RemoveAll(dir)
		return Ref{}, fmt.Errorf("fsync payload: %w", err)
	}

	m := manifest{
		ID:        id,
		ActionID:  actionID,
		CreatedAt: time.Now().UTC(),
		Files:     files,
		TreeHash:  treeHash,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		os.RemoveAll(dir)
		return Ref{}, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := fsutil.AtomicWrite(filepath.Join(dir, "manifest.json"), data, 0o644); err != nil {
		os.RemoveAll(dir)
		return Ref{}, err
	}
	if err := fsutil.AtomicWrite(filepath.Join(dir, readyMarker), []byte(id+"\n"), 0o644); err != nil {
		os.RemoveAll(dir)
		return Ref{}, err
	}

	ref := Ref{ID: id, ActionID: actionID, CreatedAt: m.CreatedAt}
	b.lastHash = treeHash
	b.lastRef = ref
	return ref, nil
}

// Restore swaps the working set for a snapshot's payload. The swap is
// rename-based: the old working set moves aside first and moves back if
// installing the clone fails, so no failure mode leaves a half-written
// working set in place.
func (b *DirBackend) Restore(ctx context.Context, ref Ref) (*action.RollbackResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := b.snapshotDir(ref.ID)
	if _, err := os.Stat(filepath.Join(dir, readyMarker)); err != nil {
		return nil, fmt.Errorf("snapshot %s is missing or incomplete", ref.ID)
	}
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	// Clone the payload next to the working set, then verify it against the
	// manifest before touching anything live.
	parent := filepath.Dir(b.root)
	clone := filepath.Join(parent, fmt.Sprintf(".%s.restore-%s", filepath.Base(b.root), ref.ID))
	os.RemoveAll(clone)
	files, err := fsutil.CopyTree(filepath.Join(dir, "payload"), clone)
	if err != nil {
		os.RemoveAll(clone)
		return nil, fmt.Errorf("clone payload: %w", err)
	}
	cloneHash, err := hashTree(clone)
	if err != nil {
		os.RemoveAll(clone)
		return nil, fmt.Errorf("hash clone: %w", err)
	}
	if cloneHash != m.TreeHash {
		os.RemoveAll(clone)
		return nil, fmt.Errorf("snapshot %s payload hash mismatch", ref.ID)
	}
	if err := fsutil.FsyncTree(clone); err != nil {
		os.RemoveAll(clone)
		return nil, fmt.Errorf("fsync clone: %w", err)
	}

	backup := filepath.Join(parent, fmt.Sprintf(".%s.backup-%s", filepath.Base(b.root), ref.ID))
	os.RemoveAll(backup)
	if err := os.Rename(b.root, backup); err != nil {
		os.RemoveAll(clone)
		return nil, fmt.Errorf("move working set aside: %w", err)
	}
	if err := fsutil.RenameAndSync(clone, b.root); err != nil {
		// Put the original back; the working set must never be left absent.
		if rerr := os.Rename(backup, b.root); rerr != nil {
			return nil, fmt.Errorf("install clone: %v; restore original: %w", err, rerr)
		}
		os.RemoveAll(clone)
		return nil, fmt.Errorf("install clone: %w", err)
	}
	if err := os.RemoveAll(backup); err != nil {
		b.logger.Warn("restore backup left behind", zap.String("path", backup), zap.Error(err))
	}

	b.lastHash = m.TreeHash
	b.lastRef = ref

	return &action.RollbackResult{
		Success:     true,
		RollbackID:  NewID(),
		RestoredRef: ref.ID,
		Files:       files,
	}, nil
}

// hashTree digests the tree rooted at dir: relative paths and file contents
// in walk order. Two trees hash equal iff they hold the same files with the
// same bytes.
func hashTree(dir string) (string, error) {
	h := sha256.New()
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			hashRecord(h, "d", rel)
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		hashRecord(h, "f", rel)
		_, err = io.Copy(h, f)
		return err
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func hashRecord(h hash.Hash, kind, rel string) {
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(rel))
	h.Write([]byte{0})
}
