package reporting

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrplf/xrplreport/internal/backend/mock"
	"github.com/xrplf/xrplreport/internal/cache"
	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/xerrors"
)

func key(b byte) ledger.Key {
	var k ledger.Key
	k[31] = b
	return k
}

// writeLedger pushes one ledger's worth of object diffs (and, optionally,
// the successor links they imply) through the backend and the cache
// together in a single write scope, the way the ETL writer does via
// Interface.FinishWrites.
func writeLedger(t *testing.T, i *Interface, seq ledger.Seq, diffs []ledger.ObjectDiff, succs ...ledger.Successor) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, i.StartWrites(ctx))
	require.NoError(t, i.WriteLedger(ctx, ledger.Header{Seq: seq}))
	for _, d := range diffs {
		require.NoError(t, i.WriteLedgerObject(ctx, ledger.Object{Key: d.Key, Seq: seq, Blob: d.Blob, Deleted: d.Deleted}))
	}
	for _, s := range succs {
		require.NoError(t, i.WriteSuccessor(ctx, s))
	}
	ok, err := i.FinishWrites(ctx, seq, diffs)
	require.NoError(t, err)
	require.True(t, ok)
}

func newTestInterface(t *testing.T) *Interface {
	t.Helper()
	b := mock.New()
	c := cache.New()
	return New(b, c)
}

func TestFetchLedgerObjectCacheFirstThenBackendFallback(t *testing.T) {
	i := newTestInterface(t)
	ctx := context.Background()

	writeLedger(t, i, 1, []ledger.ObjectDiff{{Key: key(1), Blob: []byte("a"), Created: true}})

	blob, err := i.FetchLedgerObject(ctx, key(1), 1)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), []byte(blob))

	_, err = i.FetchLedgerObject(ctx, key(2), 1)
	require.ErrorIs(t, err, xerrors.NotFound)
}

func TestFetchLedgerPageWalksSuccessorChainInKeyOrder(t *testing.T) {
	i := newTestInterface(t)
	ctx := context.Background()

	diffs := []ledger.ObjectDiff{
		{Key: key(1), Blob: []byte("a"), Created: true},
		{Key: key(2), Blob: []byte("b"), Created: true},
		{Key: key(3), Blob: []byte("c"), Created: true},
	}
	writeLedger(t, i, 1, diffs,
		ledger.Successor{Key: ledger.FirstKey, Seq: 1, Next: key(1)},
		ledger.Successor{Key: key(1), Seq: 1, Next: key(2)},
		ledger.Successor{Key: key(2), Seq: 1, Next: key(3)},
		ledger.Successor{Key: key(3), Seq: 1, Next: ledger.LastKey},
	)

	objs, next, warning, err := i.FetchLedgerPage(ctx, nil, 1, 2)
	require.NoError(t, err)
	require.False(t, warning)
	require.Len(t, objs, 2)
	require.Equal(t, key(1), objs[0].Key)
	require.Equal(t, key(2), objs[1].Key)
	require.NotNil(t, next)

	objs2, next2, _, err := i.FetchLedgerPage(ctx, next, 1, 2)
	require.NoError(t, err)
	require.Len(t, objs2, 1)
	require.Equal(t, key(3), objs2[0].Key)
	require.Nil(t, next2)
}

func TestFetchBookOffersWalksDirectoryPages(t *testing.T) {
	i := newTestInterface(t)
	ctx := context.Background()

	rootKey := key(10)
	page2Key := key(11)
	offerKey := key(20)
	offer2Key := key(21)

	page1, err := json.Marshal(DirectoryPage{Indexes: []ledger.Key{offerKey}, Next: &page2Key})
	require.NoError(t, err)
	page2, err := json.Marshal(DirectoryPage{Indexes: []ledger.Key{offer2Key}})
	require.NoError(t, err)
	offerBlob, err := json.Marshal(Offer{Account: "rAlice", TakerGets: Amount{Currency: "XRP", Value: "10"}, TakerPays: Amount{Currency: "USD", Value: "5"}})
	require.NoError(t, err)
	offer2Blob, err := json.Marshal(Offer{Account: "rBob", TakerGets: Amount{Currency: "XRP", Value: "1"}, TakerPays: Amount{Currency: "USD", Value: "1"}})
	require.NoError(t, err)

	writeLedger(t, i, 1, []ledger.ObjectDiff{
		{Key: rootKey, Blob: page1, Created: true},
		{Key: page2Key, Blob: page2, Created: true},
		{Key: offerKey, Blob: offerBlob, Created: true},
		{Key: offer2Key, Blob: offer2Blob, Created: true},
	})

	offers, err := i.FetchBookOffers(ctx, rootKey, 1, 10)
	require.NoError(t, err)
	require.Len(t, offers, 2)
	require.Equal(t, "rAlice", offers[0].Account)
	require.Equal(t, "rBob", offers[1].Account)
}

// TestFetchBookOffersStopsAtQualityBoundary covers a directory chain whose
// sfIndexNext pointer escapes into an adjacent, unrelated order book: the
// walk must stop at bookEnd rather than reporting the adjacent book's
// offers as part of this one.
func TestFetchBookOffersStopsAtQualityBoundary(t *testing.T) {
	i := newTestInterface(t)
	ctx := context.Background()

	rootKey := key(10)
	offerKey := key(20)

	var adjacentPageKey ledger.Key
	adjacentPageKey[23] = 1 // base directory of the next book, >= bookEnd
	adjacentPageKey[31] = 99
	adjacentOfferKey := key(30)

	page1, err := json.Marshal(DirectoryPage{Indexes: []ledger.Key{offerKey}, Next: &adjacentPageKey})
	require.NoError(t, err)
	adjacentPage, err := json.Marshal(DirectoryPage{Indexes: []ledger.Key{adjacentOfferKey}})
	require.NoError(t, err)
	offerBlob, err := json.Marshal(Offer{Account: "rAlice", TakerGets: Amount{Currency: "XRP", Value: "10"}, TakerPays: Amount{Currency: "USD", Value: "5"}})
	require.NoError(t, err)
	adjacentOfferBlob, err := json.Marshal(Offer{Account: "rEve", TakerGets: Amount{Currency: "XRP", Value: "1"}, TakerPays: Amount{Currency: "USD", Value: "1"}})
	require.NoError(t, err)

	writeLedger(t, i, 1, []ledger.ObjectDiff{
		{Key: rootKey, Blob: page1, Created: true},
		{Key: adjacentPageKey, Blob: adjacentPage, Created: true},
		{Key: offerKey, Blob: offerBlob, Created: true},
		{Key: adjacentOfferKey, Blob: adjacentOfferBlob, Created: true},
	})

	offers, err := i.FetchBookOffers(ctx, rootKey, 1, 10)
	require.NoError(t, err)
	require.Len(t, offers, 1, "the walk must stop at the book's quality boundary instead of spilling into the adjacent book")
	require.Equal(t, "rAlice", offers[0].Account)
}

func TestFinishWritesReportsWriteConflict(t *testing.T) {
	i := newTestInterface(t)
	ctx := context.Background()

	writeLedger(t, i, 5, []ledger.ObjectDiff{{Key: key(1), Blob: []byte("a"), Created: true}})

	// A second, stale writer attempts to finish at the same tip.
	require.NoError(t, i.StartWrites(ctx))
	require.NoError(t, i.WriteLedger(ctx, ledger.Header{Seq: 5}))
	ok, err := i.FinishWrites(ctx, 5, nil)
	require.NoError(t, err)
	require.True(t, ok, "re-finishing the same seq is an idempotent replay, not a conflict")

	require.NoError(t, i.StartWrites(ctx))
	ok, err = i.FinishWrites(ctx, 4, nil)
	require.NoError(t, err)
	require.False(t, ok, "finishing an older seq than the tip must be reported as a lost race")
}
