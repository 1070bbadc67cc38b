package etl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrplf/xrplreport/internal/backend/mock"
	"github.com/xrplf/xrplreport/internal/cache"
	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/queue"
	"github.com/xrplf/xrplreport/internal/reporting"
	"github.com/xrplf/xrplreport/internal/rpcwire"
	"github.com/xrplf/xrplreport/internal/subscription"
	"github.com/xrplf/xrplreport/internal/xmetrics"
)

// fakeFetcher answers FetchLedger from a fixed in-memory ledger set, used to
// drive the extract/transform/load pipeline without a real upstream source.
type fakeFetcher struct {
	ledgers map[ledger.Seq]*rpcwire.GetLedgerResponse
}

func (f *fakeFetcher) FetchLedger(ctx context.Context, req rpcwire.GetLedgerRequest) (*rpcwire.GetLedgerResponse, error) {
	resp, ok := f.ledgers[ledger.Seq(req.Sequence)]
	if !ok {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return resp, nil
}

func (f *fakeFetcher) FetchLedgerDataPage(ctx context.Context, req rpcwire.GetLedgerDataRequest) (*rpcwire.GetLedgerDataResponse, error) {
	panic("not used by these tests")
}

func genesisKey(b byte) ledger.Key {
	var k ledger.Key
	k[0] = b
	return k
}

func buildFixture() *fakeFetcher {
	h1 := ledger.Header{Seq: 1, Hash: [32]byte{1}}
	h2 := ledger.Header{Seq: 2, Hash: [32]byte{2}, ParentHash: h1.Hash}
	h3 := ledger.Header{Seq: 3, Hash: [32]byte{3}, ParentHash: h2.Hash}

	return &fakeFetcher{ledgers: map[ledger.Seq]*rpcwire.GetLedgerResponse{
		1: {
			Header: h1,
			Objects: []ledger.Object{
				{Key: genesisKey(1), Blob: []byte("a")},
			},
		},
		2: {
			Header: h2,
			Objects: []ledger.Object{
				{Key: genesisKey(2), Blob: []byte("b")},
			},
		},
		3: {
			Header: h3,
			Objects: []ledger.Object{
				{Key: genesisKey(1), Deleted: true},
			},
		},
	}}
}

func newTestController(t *testing.T, fetcher upstream) (*Controller, *reporting.Interface) {
	t.Helper()
	be := mock.New()
	c := cache.New()
	metrics := xmetrics.Noop()
	iface := reporting.New(be, c, reporting.WithMetrics(metrics))
	subs := subscription.New(subscription.WithMetrics(metrics))
	q := queue.New(8)

	ctrl := New(Config{ExtractorThreads: 2, NumMarkers: 4}, iface, fetcher, q, subs, metrics)
	return ctrl, iface
}

func seedQueue(t *testing.T, q *queue.Queue, upto ledger.Seq) {
	t.Helper()
	ctx := context.Background()
	for s := ledger.Seq(1); s <= upto; s++ {
		require.NoError(t, q.Push(ctx, s))
	}
}

func TestControllerExtractLoopCommitsInSequenceOrder(t *testing.T) {
	fetcher := buildFixture()
	ctrl, iface := newTestController(t, fetcher)
	seedQueue(t, ctrl.queue, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.runExtractLoop(ctx, 1) }()

	require.Eventually(t, func() bool {
		rng, err := iface.FetchLedgerRange(context.Background())
		return err == nil && rng != nil && rng.Max == 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-errCh

	blob, err := iface.FetchLedgerObject(context.Background(), genesisKey(1), 2)
	require.NoError(t, err)
	require.Equal(t, ledger.Blob("a"), blob)

	_, err = iface.FetchLedgerObject(context.Background(), genesisKey(1), 3)
	require.Error(t, err)
}

func TestControllerReadOnlyNeverWrites(t *testing.T) {
	fetcher := buildFixture()
	ctrl, iface := newTestController(t, fetcher)
	ctrl.cfg.ReadOnly = true

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := ctrl.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, ReadOnly, ctrl.State())

	_, err = iface.FetchLedgerRange(context.Background())
	require.Error(t, err)
}

func TestPartitionKeySpaceCoversFullRangeInOrder(t *testing.T) {
	starts := partitionKeySpace(4)
	require.Len(t, starts, 4)
	require.Nil(t, starts[0])
	for i := 1; i < len(starts); i++ {
		require.Len(t, starts[i], 32)
		prevIsSmaller := starts[i-1] == nil || string(starts[i-1]) < string(starts[i])
		require.True(t, prevIsSmaller)
	}
}
