package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrplf/xrplreport/internal/ledger"
)

func key(b byte) ledger.Key {
	var k ledger.Key
	k[31] = b
	return k
}

func TestGetMissBeforeFull(t *testing.T) {
	c := New()
	_, found, live := c.Get(key(1), 10)
	require.False(t, found, "a non-full cache must report an open miss, not absence")
	require.False(t, live)
}

func TestGetTombstoneIsNotLive(t *testing.T) {
	c := New()
	require.NoError(t, c.Update([]ledger.ObjectDiff{{Key: key(1), Deleted: true}}, 5, false))
	_, found, live := c.Get(key(1), 5)
	require.True(t, found)
	require.False(t, live)
}

func TestUpdateRejectsNonSequential(t *testing.T) {
	c := New()
	require.NoError(t, c.Update(nil, 5, false))
	err := c.Update(nil, 7, false)
	require.Error(t, err)
}

func TestSuccessorOrdering(t *testing.T) {
	c := New()
	diffs := []ledger.ObjectDiff{
		{Key: key(1), Blob: []byte("a")},
		{Key: key(3), Blob: []byte("c")},
		{Key: key(5), Blob: []byte("e")},
	}
	require.NoError(t, c.Update(diffs, 100, false))

	k, blob, ok := c.Successor(key(1), 100)
	require.True(t, ok)
	require.Equal(t, key(3), k)
	require.Equal(t, []byte("c"), []byte(blob))

	k, blob, ok = c.Predecessor(key(5), 100)
	require.True(t, ok)
	require.Equal(t, key(3), k)
	_ = blob

	_, _, ok = c.Successor(key(5), 100)
	require.False(t, ok, "maximum live key has no successor")
}

// fakePageSource hands out a single page then terminates, enough to
// exercise the background-load/normal-update interleaving.
type fakePageSource struct {
	objs []ledger.Object
	seq  ledger.Seq
}

func (f *fakePageSource) FetchLedgerPage(ctx context.Context, cursor *ledger.Key, seq ledger.Seq, limit int) ([]ledger.Object, *ledger.Key, bool, error) {
	if cursor != nil && *cursor != ledger.FirstKey {
		return nil, nil, false, nil
	}
	return f.objs, nil, false, nil
}

// TestBackgroundLoadDoesNotClobberNewerWrites covers the race between an
// in-progress background load and a live ETL write: a normal update writes
// K=X at seq 500; a background load snapshot taken at
// seq 499 later tries to insert Y for K. The newer write must win until
// set_full, after which reads below 500 fall back to the background value.
func TestBackgroundLoadDoesNotClobberNewerWrites(t *testing.T) {
	c := New()
	k := key(9)

	require.NoError(t, c.Update([]ledger.ObjectDiff{{Key: k, Blob: []byte("X")}}, 500, false))

	src := &fakePageSource{objs: []ledger.Object{{Key: k, Blob: []byte("Y")}}}
	require.NoError(t, c.BackgroundLoad(context.Background(), src, 499, LoadOptions{Markers: 1, PageSize: 10}))

	blob, found, live := c.Get(k, 500)
	require.True(t, found)
	require.True(t, live)
	require.Equal(t, []byte("X"), []byte(blob))

	require.True(t, c.IsFull())

	// Below the normal write's sequence, the background snapshot value is
	// what should answer queries.
	blob, found, live = c.Get(k, 499)
	require.True(t, found)
	require.True(t, live)
	require.Equal(t, []byte("Y"), []byte(blob))
}
