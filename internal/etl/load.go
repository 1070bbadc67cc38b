package etl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/reporting"
	"github.com/xrplf/xrplreport/internal/subscription"
	"github.com/xrplf/xrplreport/internal/xlog"
	"github.com/xrplf/xrplreport/internal/xmetrics"
)

// writeStage is C6's single-threaded write stage: it commits one
// TransformedLedger at a time, in sequence order, then publishes it to C8.
// A write conflict (another writer already advanced the tip) is reported
// back to the caller so the controller can transition to read-only.
type writeStage struct {
	iface   *reporting.Interface
	subs    *subscription.Registry
	metrics *xmetrics.Metrics
	log     xlog.Logger
}

func newWriteStage(iface *reporting.Interface, subs *subscription.Registry, metrics *xmetrics.Metrics) *writeStage {
	return &writeStage{iface: iface, subs: subs, metrics: metrics, log: xlog.For("etl-load")}
}

// apply commits tl and publishes it. It returns (false, nil) on a write
// conflict, matching reporting.Interface.FinishWrites' contract.
func (w *writeStage) apply(ctx context.Context, tl ledger.TransformedLedger) (bool, error) {
	if err := w.iface.StartWrites(ctx); err != nil {
		return false, fmt.Errorf("etl: starting write scope for ledger %d: %w", tl.Header.Seq, err)
	}
	if err := w.iface.WriteLedger(ctx, tl.Header); err != nil {
		return false, fmt.Errorf("etl: writing header %d: %w", tl.Header.Seq, err)
	}
	for _, d := range tl.ObjectDiffs {
		obj := ledger.Object{Key: d.Key, Seq: tl.Header.Seq, Blob: d.Blob, Deleted: d.Deleted}
		if err := w.iface.WriteLedgerObject(ctx, obj); err != nil {
			return false, fmt.Errorf("etl: writing object %s at %d: %w", d.Key, tl.Header.Seq, err)
		}
	}
	for _, s := range tl.SuccessorDiffs {
		if err := w.iface.WriteSuccessor(ctx, s); err != nil {
			return false, fmt.Errorf("etl: writing successor %s at %d: %w", s.Key, tl.Header.Seq, err)
		}
	}
	for _, t := range tl.Transactions {
		if err := w.iface.WriteTransaction(ctx, t); err != nil {
			return false, fmt.Errorf("etl: writing transaction %s: %w", t.Hash, err)
		}
	}
	if len(tl.AccountTxRows) > 0 {
		if err := w.iface.WriteAccountTransactions(ctx, tl.AccountTxRows); err != nil {
			return false, fmt.Errorf("etl: writing account tx rows at %d: %w", tl.Header.Seq, err)
		}
	}
	for _, n := range tl.NFTStates {
		if err := w.iface.WriteNFTState(ctx, n); err != nil {
			return false, fmt.Errorf("etl: writing nft state at %d: %w", tl.Header.Seq, err)
		}
	}
	if len(tl.NFTTxRows) > 0 {
		if err := w.iface.WriteNFTTransactions(ctx, tl.NFTTxRows); err != nil {
			return false, fmt.Errorf("etl: writing nft tx rows at %d: %w", tl.Header.Seq, err)
		}
	}

	ok, err := w.iface.FinishWrites(ctx, tl.Header.Seq, tl.ObjectDiffs)
	if err != nil {
		return false, fmt.Errorf("etl: finishing writes for ledger %d: %w", tl.Header.Seq, err)
	}
	if !ok {
		return false, nil
	}

	w.publish(ctx, tl)
	return true, nil
}

// publish fans tl out over C8. Encoding failures are logged, not returned:
// a subscriber-facing encode problem must never fail the commit that already
// succeeded against the backend.
func (w *writeStage) publish(ctx context.Context, tl ledger.TransformedLedger) {
	w.subs.PublishLedger(subscription.LedgerEvent{
		Header:          tl.Header,
		TxCount:         len(tl.Transactions),
		CompleteLedgers: w.iface.FetchCompleteLedgers(ctx),
	}, encodeJSON[subscription.LedgerEvent])

	accountsByTx := make(map[ledger.Hash][]ledger.AccountID)
	for _, row := range tl.AccountTxRows {
		accountsByTx[row.Tx] = append(accountsByTx[row.Tx], row.Account)
	}
	for _, t := range tl.Transactions {
		w.subs.PublishTransaction(subscription.TransactionEvent{
			Tx:       t,
			Accounts: accountsByTx[t.Hash],
		}, encodeJSON[subscription.TransactionEvent])
	}
}

// encodeJSON is the default wire encoder for subscription fan-out: plain
// JSON of the event struct, same as the façade's other reader-facing
// payloads. A deployment that needs the real XRPL JSON-RPC subscription
// shape supplies its own encode funcs at the rpcapi layer instead.
func encodeJSON[T any](evt T) ([]byte, error) {
	return json.Marshal(evt)
}
