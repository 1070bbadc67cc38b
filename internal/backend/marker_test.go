package backend

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrplf/xrplreport/internal/ledger"
)

func testKey(b byte) ledger.Key {
	var k ledger.Key
	k[31] = b
	return k
}

// fakePager serves up to limit objects starting just after the object whose
// key equals cursor, enough to drive DecodeMarker's legacy-ordinal walk
// without a real backend.
type fakePager struct {
	objs []ledger.Object
}

func (f *fakePager) FetchLedgerPage(ctx context.Context, cursor *ledger.Key, seq ledger.Seq, limit int) ([]ledger.Object, *ledger.Key, bool, error) {
	start := 0
	if cursor != nil {
		for i, o := range f.objs {
			if o.Key == *cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.objs) {
		end = len(f.objs)
	}
	page := f.objs[start:end]
	var next *ledger.Key
	if end < len(f.objs) {
		k := page[len(page)-1].Key
		next = &k
	}
	return page, next, false, nil
}

func TestDecodeMarkerEmpty(t *testing.T) {
	key, err := DecodeMarker(context.Background(), &fakePager{}, "", 1)
	require.NoError(t, err)
	require.Nil(t, key)
}

func TestDecodeMarkerKeyForm(t *testing.T) {
	k := testKey(7)
	raw := hex.EncodeToString(k[:])
	got, err := DecodeMarker(context.Background(), &fakePager{}, raw, 1)
	require.NoError(t, err)
	require.Equal(t, k, *got)
}

func TestDecodeMarkerLegacyOrdinal(t *testing.T) {
	pager := &fakePager{objs: []ledger.Object{
		{Key: testKey(1)}, {Key: testKey(2)}, {Key: testKey(3)},
	}}
	got, err := DecodeMarker(context.Background(), pager, "2", 1)
	require.NoError(t, err)
	require.Equal(t, testKey(2), *got)
}

func TestDecodeMarkerLegacyOrdinalZeroMeansStart(t *testing.T) {
	got, err := DecodeMarker(context.Background(), &fakePager{}, "0", 1)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDecodeMarkerLegacyOrdinalPastEnd(t *testing.T) {
	pager := &fakePager{objs: []ledger.Object{{Key: testKey(1)}}}
	_, err := DecodeMarker(context.Background(), pager, "50", 1)
	require.Error(t, err)
}

func TestDecodeMarkerRejectsGarbage(t *testing.T) {
	_, err := DecodeMarker(context.Background(), &fakePager{}, "not-a-marker", 1)
	require.Error(t, err)
}
