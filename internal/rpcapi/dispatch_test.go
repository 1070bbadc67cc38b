package rpcapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrplf/xrplreport/internal/backend/mock"
	"github.com/xrplf/xrplreport/internal/cache"
	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/reporting"
	"github.com/xrplf/xrplreport/internal/rpcwire"
)

type fakeForwarder struct {
	lastMethod string
	resp       *rpcwire.ForwardResponse
	err        error
}

func (f *fakeForwarder) Forward(ctx context.Context, req rpcwire.ForwardRequest) (*rpcwire.ForwardResponse, error) {
	f.lastMethod = req.Method
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func seedLedger(t *testing.T, be *mock.Backend, seq ledger.Seq, key ledger.Key, blob []byte) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, be.StartWrites(ctx))
	require.NoError(t, be.WriteLedger(ctx, ledger.Header{Seq: seq, Hash: ledger.Hash{byte(seq)}}))
	require.NoError(t, be.WriteLedgerObject(ctx, ledger.Object{Key: key, Seq: seq, Blob: blob}))
	require.NoError(t, be.WriteSuccessor(ctx, ledger.Successor{Key: ledger.FirstKey, Seq: seq, Next: key}))
	require.NoError(t, be.WriteSuccessor(ctx, ledger.Successor{Key: key, Seq: seq, Next: ledger.LastKey}))
	ok, err := be.FinishWrites(ctx, seq)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDispatcherLedgerAndLedgerData(t *testing.T) {
	be := mock.New()
	key := ledger.Key{1}
	seedLedger(t, be, 5, key, []byte("hello"))

	iface := reporting.New(be, cache.New())
	d := NewDispatcher(iface, &fakeForwarder{})

	resp, err := d.Ledger(context.Background(), LedgerRequest{Ledger: LedgerIndex{Shorthand: "validated"}})
	require.NoError(t, err)
	require.Equal(t, ledger.Seq(5), resp.Header.Seq)
	require.Equal(t, "5", resp.CompleteLedgers)

	page, err := d.LedgerData(context.Background(), LedgerDataRequest{Ledger: LedgerIndex{Shorthand: "validated"}})
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	require.Equal(t, key, page.Objects[0].Key)
}

func TestDispatcherForwardsLiveStateRequests(t *testing.T) {
	be := mock.New()
	iface := reporting.New(be, cache.New())
	fwd := &fakeForwarder{resp: &rpcwire.ForwardResponse{Result: []byte(`{"ok":true}`)}}
	d := NewDispatcher(iface, fwd)

	require.True(t, d.ShouldForward("fee", LedgerIndex{}))
	require.True(t, d.ShouldForward("ledger", LedgerIndex{Shorthand: "current"}))
	require.False(t, d.ShouldForward("ledger", LedgerIndex{Shorthand: "validated"}))

	resp, err := d.Forward(context.Background(), ForwardedRequest{Method: "fee"})
	require.NoError(t, err)
	require.Equal(t, []byte(`{"ok":true}`), resp.Result)
	require.Equal(t, "fee", fwd.lastMethod)
}

func TestExternalOnlyMethodsAreFlagged(t *testing.T) {
	require.True(t, ExternalOnly("book_offers"))
	require.True(t, ExternalOnly("ledger_entry"))
	require.False(t, ExternalOnly("ledger"))
	require.False(t, ExternalOnly("account_tx"))
}
