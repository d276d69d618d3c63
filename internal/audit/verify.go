package audit

import (
	"encoding/json"
	"fmt"
	"os"
)

// Verify reads a chain file and checks its integrity. It returns nil for a
// valid (or empty) chain, or an error describing the first violation.
func Verify(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	lines := splitLines(data)
	if len(lines) == 0 {
		return nil
	}

	expectedPrev := genesisHash()
	var prevSeq uint64

	for i, line := range lines {
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("line %d: invalid JSON: %w", i+1, err)
		}

		if entry.Seq != prevSeq+1 {
			return fmt.Errorf("line %d: sequence gap: expected %d, got %d", i+1, prevSeq+1, entry.Seq)
		}

		if entry.PrevHash != expectedPrev {
			return fmt.Errorf("line %d: prev_hash mismatch: expected %s, got %s", i+1, abbrev(expectedPrev), abbrev(entry.PrevHash))
		}

		computed := computeHash(entry)
		if entry.Hash != computed {
			return fmt.Errorf("line %d: hash mismatch: expected %s, got %s", i+1, abbrev(computed), abbrev(entry.Hash))
		}

		expectedPrev = entry.Hash
		prevSeq = entry.Seq
	}

	return nil
}

// Tail returns the last n entries from a chain file.
func Tail(path string, n int) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	lines := splitLines(data)
	if n > len(lines) {
		n = len(lines)
	}

	entries := make([]Entry, 0, n)
	for _, line := range lines[len(lines)-n:] {
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func abbrev(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
