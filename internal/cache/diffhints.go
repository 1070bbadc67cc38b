package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xrplf/xrplreport/internal/ledger"
)

// DiffHint is one ledger's worth of object diffs, retained so a freshly
// restarted process can seed recent history before its background full load
// finishes.
type DiffHint struct {
	Seq   ledger.Seq
	Diffs []ledger.ObjectDiff
}

// HintRing persists the last cache.num_diffs ledgers' worth of diffs to a
// small local file: a restarted node with cache.load=async replays the ring
// on top of whatever the backend returns, answering point-reads for very
// recent history in memory instead of racing the background loader for
// every read. The ring is a hint, never a source of truth — a missing or
// corrupt file just costs a slower warm-up, never a wrong answer, since
// every read still falls through to the backend on a cache miss.
type HintRing struct {
	mu       sync.Mutex
	path     string
	capacity int
	entries  []DiffHint
}

// NewHintRing loads any existing ring from path. path == "" keeps the ring
// in memory only (nothing is loaded or written); capacity <= 0 disables the
// ring entirely, and Record then becomes a no-op.
func NewHintRing(path string, capacity int) *HintRing {
	r := &HintRing{path: path, capacity: capacity}
	if path == "" || capacity <= 0 {
		return r
	}
	if entries, err := loadHintFile(path); err == nil {
		r.entries = entries
	}
	return r
}

// Load returns the ring's entries in ascending Seq order, ready to replay
// against a Cache via Update(hint.Diffs, hint.Seq, true) one at a time.
func (r *HintRing) Load() []DiffHint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DiffHint, len(r.entries))
	copy(out, r.entries)
	return out
}

// Record appends seq's diffs, evicting the oldest entry once capacity is
// exceeded, and persists the ring. Callers should log (not fail) a non-nil
// return: losing the hint file degrades restart latency, not correctness.
func (r *HintRing) Record(seq ledger.Seq, diffs []ledger.ObjectDiff) error {
	if r.capacity <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, DiffHint{Seq: seq, Diffs: diffs})
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
	if r.path == "" {
		return nil
	}
	return writeHintFile(r.path, r.entries)
}

func loadHintFile(path string) ([]DiffHint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []DiffHint
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// writeHintFile writes to a temp file and renames it into place, so a crash
// mid-write leaves the previous ring file intact.
func writeHintFile(path string, entries []DiffHint) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return fmt.Errorf("cache: encoding diff hints: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache: creating hint directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("cache: writing diff hint file: %w", err)
	}
	return os.Rename(tmp, path)
}
