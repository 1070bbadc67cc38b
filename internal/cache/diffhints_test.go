package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrplf/xrplreport/internal/ledger"
)

func TestHintRingRecordsAndCaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hints.gob")
	r := NewHintRing(path, 2)

	require.NoError(t, r.Record(1, []ledger.ObjectDiff{{Key: key(1), Blob: []byte("a")}}))
	require.NoError(t, r.Record(2, []ledger.ObjectDiff{{Key: key(2), Blob: []byte("b")}}))
	require.NoError(t, r.Record(3, []ledger.ObjectDiff{{Key: key(3), Blob: []byte("c")}}))

	entries := r.Load()
	require.Len(t, entries, 2, "capacity 2 must evict the oldest entry")
	require.Equal(t, ledger.Seq(2), entries[0].Seq)
	require.Equal(t, ledger.Seq(3), entries[1].Seq)
}

func TestHintRingSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hints.gob")
	r := NewHintRing(path, 10)
	require.NoError(t, r.Record(5, []ledger.ObjectDiff{{Key: key(9), Blob: []byte("x")}}))

	reloaded := NewHintRing(path, 10)
	entries := reloaded.Load()
	require.Len(t, entries, 1)
	require.Equal(t, ledger.Seq(5), entries[0].Seq)
	require.Equal(t, []byte("x"), []byte(entries[0].Diffs[0].Blob))
}

func TestHintRingDisabledWithoutCapacity(t *testing.T) {
	r := NewHintRing("", 0)
	require.NoError(t, r.Record(1, []ledger.ObjectDiff{{Key: key(1)}}))
	require.Empty(t, r.Load())
}

func TestHintRingReplaySeedsCache(t *testing.T) {
	c := New()
	hints := NewHintRing("", 5)
	require.NoError(t, hints.Record(7, []ledger.ObjectDiff{{Key: key(4), Blob: []byte("z")}}))

	for _, h := range hints.Load() {
		require.NoError(t, c.Update(h.Diffs, h.Seq, true))
	}

	blob, found, live := c.Get(key(4), 7)
	require.True(t, found)
	require.True(t, live)
	require.Equal(t, []byte("z"), []byte(blob))
}
