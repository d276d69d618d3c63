// Package audit records every governance decision and lifecycle transition.
// A bounded in-memory ring serves reads; an optional hash-chained JSONL sink
// provides tamper-evident durability.
package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const genesisInput = "warden-genesis"

// Sink receives every appended entry for durable storage.
type Sink interface {
	Append(Entry) error
}

// FileSink is an append-only, hash-chained JSONL writer. Each line's hash
// covers the line with its hash field empty and chains from the previous
// line, so any edit, removal or reorder breaks verification.
type FileSink struct {
	mu       sync.Mutex
	path     string
	seq      uint64
	prevHash string
}

// NewFileSink opens or creates the chain file at path, reading the last
// line to resume the chain.
func NewFileSink(path string) (*FileSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	s := &FileSink{
		path:     path,
		prevHash: genesisHash(),
	}

	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		lines := splitLines(data)
		if len(lines) > 0 {
			var last Entry
			if err := json.Unmarshal(lines[len(lines)-1], &last); err == nil {
				s.seq = last.Seq
				s.prevHash = last.Hash
			}
		}
	}

	return s, nil
}

// Append stamps the chain fields and writes one JSONL line.
func (s *FileSink) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e.Seq = s.seq
	e.PrevHash = s.prevHash
	e.Hash = computeHash(e)
	s.prevHash = e.Hash

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Path returns the chain file path.
func (s *FileSink) Path() string {
	return s.path
}

func genesisHash() string {
	h := sha256.Sum256([]byte(genesisInput))
	return fmt.Sprintf("%x", h)
}

func computeHash(e Entry) string {
	e.Hash = "" // hash is computed with this field empty
	data, _ := json.Marshal(e)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
