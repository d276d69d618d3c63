package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func sampleEntry(event, actionID string) Entry {
	return Entry{
		Event:       event,
		ActorID:     "tester",
		ActionID:    actionID,
		ActionType:  "file_write",
		Resource:    "/workspace/notes.txt",
		TrustBefore: 0.5,
		TrustAfter:  0.51,
		TierBefore:  "trusted",
		TierAfter:   "trusted",
	}
}

func TestSinkAndVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if err := sink.Append(sampleEntry(EventCompleted, fmt.Sprintf("a-%d", i))); err != nil {
			t.Fatalf("append entry %d: %v", i, err)
		}
	}

	if err := Verify(path); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		_ = sink.Append(sampleEntry(EventStarted, "a-1"))
	}

	// Tamper with the file: modify a byte in the middle.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	mid := len(data) / 2
	if data[mid] == 'a' {
		data[mid] = 'b'
	} else {
		data[mid] = 'a'
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	if err := Verify(path); err == nil {
		t.Fatal("expected verify to detect tampering")
	}
}

func TestVerifyDetectsSequenceGap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		_ = sink.Append(sampleEntry(EventCompleted, fmt.Sprintf("a-%d", i)))
	}

	// Delete the middle line (line 3 of 5).
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(data)
	remaining := append(lines[:2], lines[3:]...)
	var newData []byte
	for _, line := range remaining {
		newData = append(newData, line...)
		newData = append(newData, '\n')
	}
	if err := os.WriteFile(path, newData, 0600); err != nil {
		t.Fatal(err)
	}

	if err := Verify(path); err == nil {
		t.Fatal("expected verify to detect sequence gap")
	}
}

func TestVerifyEmptyLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	if err := os.WriteFile(path, []byte{}, 0600); err != nil {
		t.Fatal(err)
	}

	if err := Verify(path); err != nil {
		t.Fatalf("empty log should be valid: %v", err)
	}
}

func TestSinkResumesChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	sink1, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = sink1.Append(sampleEntry(EventApproved, "a-1"))
	_ = sink1.Append(sampleEntry(EventStarted, "a-1"))

	// A new sink on the same path simulates a process restart.
	sink2, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = sink2.Append(sampleEntry(EventCompleted, "a-1"))

	if err := Verify(path); err != nil {
		t.Fatalf("chain should be valid after restart: %v", err)
	}

	entries, err := Tail(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[2].Seq != 3 {
		t.Errorf("expected seq 3, got %d", entries[2].Seq)
	}
}

func TestRingEviction(t *testing.T) {
	log := NewLog(3, nil, nil)
	for i := 1; i <= 5; i++ {
		log.Append(sampleEntry(EventCompleted, fmt.Sprintf("a-%d", i)))
	}

	if got := log.Len(); got != 3 {
		t.Fatalf("got len %d, want 3", got)
	}
	if got := log.Total(); got != 5 {
		t.Fatalf("got total %d, want 5", got)
	}

	recent := log.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("got %d entries, want 3", len(recent))
	}
	// Newest first; the two oldest were evicted.
	want := []string{"a-5", "a-4", "a-3"}
	for i, e := range recent {
		if e.ActionID != want[i] {
			t.Errorf("recent[%d]: got action %q, want %q", i, e.ActionID, want[i])
		}
	}
}

func TestRingPagination(t *testing.T) {
	log := NewLog(10, nil, nil)
	for i := 1; i <= 7; i++ {
		log.Append(sampleEntry(EventCompleted, fmt.Sprintf("a-%d", i)))
	}

	tests := []struct {
		name          string
		offset, limit int
		want          []string
	}{
		{"first page", 0, 3, []string{"a-7", "a-6", "a-5"}},
		{"second page", 3, 3, []string{"a-4", "a-3", "a-2"}},
		{"partial last page", 6, 3, []string{"a-1"}},
		{"past the end", 7, 3, nil},
		{"zero limit", 0, 0, nil},
		{"negative offset", -1, 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := log.Page(tt.offset, tt.limit)
			if len(page) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(page), len(tt.want))
			}
			for i, e := range page {
				if e.ActionID != tt.want[i] {
					t.Errorf("page[%d]: got action %q, want %q", i, e.ActionID, tt.want[i])
				}
			}
		})
	}
}

func TestRingFansOutToSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}

	log := NewLog(2, sink, nil)
	for i := 1; i <= 4; i++ {
		log.Append(sampleEntry(EventCompleted, fmt.Sprintf("a-%d", i)))
	}

	// The ring evicted two entries but the sink kept all four.
	entries, err := Tail(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("sink has %d entries, want 4", len(entries))
	}
	if err := Verify(path); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
}

func TestEntryIDAndTimeStamped(t *testing.T) {
	log := NewLog(4, nil, nil)
	log.Append(sampleEntry(EventApproved, "a-1"))

	e := log.Recent(1)[0]
	if e.ID == "" {
		t.Error("entry ID not stamped")
	}
	if e.Time.IsZero() {
		t.Error("entry time not stamped")
	}
}
