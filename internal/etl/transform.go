package etl

import (
	"context"
	"fmt"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/reporting"
	"github.com/xrplf/xrplreport/internal/xerrors"
)

// transformer pops raw extracted ledgers in sequence order, validates
// parent-hash linkage, and derives the object-diff's successor-chain
// updates before handing the result to the write stage.
type transformer struct {
	iface *reporting.Interface
	meta  MetaDecoder
}

// transform validates rl against prevHeader (nil only when the extract
// loop starts at sequence 1) and derives everything the write stage
// needs. A parent-hash mismatch is reported via xerrors.ParentHashMismatch;
// runExtractLoop does not refetch the ledger, it stops with that error.
func (tr *transformer) transform(ctx context.Context, rl rawLedger, prevHeader *ledger.Header) (ledger.TransformedLedger, error) {
	resp := rl.resp
	if prevHeader != nil && resp.Header.ParentHash != prevHeader.Hash {
		return ledger.TransformedLedger{}, fmt.Errorf("etl: ledger %d parent hash does not match committed ledger %d: %w",
			resp.Header.Seq, prevHeader.Seq, xerrors.ParentHashMismatch)
	}

	diffs, err := tr.objectDiffs(ctx, rl.seq, resp.Objects)
	if err != nil {
		return ledger.TransformedLedger{}, err
	}

	succDiffs, err := tr.successorDiffs(ctx, rl.seq, diffs)
	if err != nil {
		return ledger.TransformedLedger{}, err
	}

	var accountRows []ledger.AccountTx
	var nftRows []ledger.NFTTx
	for idx, tx := range resp.Txns {
		for _, acct := range tr.meta.AffectedAccounts(tx) {
			accountRows = append(accountRows, ledger.AccountTx{Account: acct, Seq: rl.seq, Index: uint32(idx), Tx: tx.Hash})
		}
		for _, tok := range tr.meta.AffectedNFTs(tx) {
			nftRows = append(nftRows, ledger.NFTTx{TokenID: tok, Seq: rl.seq, Index: uint32(idx), Tx: tx.Hash})
		}
	}

	return ledger.TransformedLedger{
		Header:         resp.Header,
		Transactions:   resp.Txns,
		ObjectDiffs:    diffs,
		SuccessorDiffs: succDiffs,
		AccountTxRows:  accountRows,
		NFTStates:      tr.meta.NFTStates(diffs),
		NFTTxRows:      nftRows,
	}, nil
}

// objectDiffs derives ledger.ObjectDiff entries from the extracted object
// list, determining Created by checking whether a prior version existed at
// seq-1. For ledger sequence 1 there is no seq-1 to check against, so
// every live object counts as created.
func (tr *transformer) objectDiffs(ctx context.Context, seq ledger.Seq, objects []ledger.Object) ([]ledger.ObjectDiff, error) {
	diffs := make([]ledger.ObjectDiff, 0, len(objects))
	for _, o := range objects {
		created := false
		if seq > 1 {
			_, err := tr.iface.FetchLedgerObject(ctx, o.Key, seq-1)
			switch {
			case err == nil:
				created = false
			case err == xerrors.NotFound:
				created = true
			default:
				return nil, fmt.Errorf("etl: checking prior version of key %s: %w", o.Key, err)
			}
		} else {
			created = !o.Deleted
		}
		diffs = append(diffs, ledger.ObjectDiff{Key: o.Key, Blob: o.Blob, Deleted: o.Deleted, Created: created})
	}
	return diffs, nil
}

// successorDiffs derives the successor-chain splice for each diff: deleted
// keys splice their predecessor directly to their old successor; created
// keys are spliced in between their predecessor and whatever the
// predecessor pointed to before. Modified keys (present both sides, not
// created, not deleted) produce no successor writes.
func (tr *transformer) successorDiffs(ctx context.Context, seq ledger.Seq, diffs []ledger.ObjectDiff) ([]ledger.Successor, error) {
	prevSeq := seq - 1
	var out []ledger.Successor
	for _, d := range diffs {
		switch {
		case d.Deleted:
			pred, err := tr.predecessorAt(ctx, d.Key, prevSeq)
			if err != nil {
				return nil, err
			}
			succ, err := tr.iface.FetchSuccessor(ctx, d.Key, prevSeq)
			if err != nil && err != xerrors.NotFound {
				return nil, fmt.Errorf("etl: fetching successor of deleted key %s: %w", d.Key, err)
			}
			next := ledger.LastKey
			if succ != nil {
				next = *succ
			}
			out = append(out, ledger.Successor{Key: pred, Seq: seq, Next: next})
		case d.Created:
			pred, err := tr.predecessorAt(ctx, d.Key, prevSeq)
			if err != nil {
				return nil, err
			}
			oldNext, err := tr.iface.FetchSuccessor(ctx, pred, prevSeq)
			if err != nil && err != xerrors.NotFound {
				return nil, fmt.Errorf("etl: fetching predecessor's old successor for key %s: %w", d.Key, err)
			}
			next := ledger.LastKey
			if oldNext != nil {
				next = *oldNext
			}
			out = append(out, ledger.Successor{Key: pred, Seq: seq, Next: d.Key})
			out = append(out, ledger.Successor{Key: d.Key, Seq: seq, Next: next})
		}
	}
	return out, nil
}

// predecessorAt finds the live predecessor of key at seq, starting the
// search from FIRST_KEY on the very first ledger (seq==0, i.e. prevSeq
// passed in as 0 meaning "nothing persisted yet").
func (tr *transformer) predecessorAt(ctx context.Context, key ledger.Key, seq ledger.Seq) (ledger.Key, error) {
	if seq == 0 {
		return ledger.FirstKey, nil
	}
	pred, err := tr.iface.FetchPredecessor(ctx, key, seq)
	if err != nil {
		if err == xerrors.NotFound {
			return ledger.FirstKey, nil
		}
		return ledger.Key{}, fmt.Errorf("etl: fetching predecessor of key %s: %w", key, err)
	}
	return *pred, nil
}
