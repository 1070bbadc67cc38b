package rpcapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/xerrors"
)

// Ledger answers the `ledger` method directly from the backend interface
// (C3): resolve the selector to a sequence, fetch the header, and
// optionally the transaction hashes/bodies closed in it.
func (d *Dispatcher) Ledger(ctx context.Context, req LedgerRequest) (*LedgerResponse, error) {
	if d.ShouldForward("ledger", req.Ledger) {
		return nil, fmt.Errorf("%w: rpcapi: ledger request names live state, forward instead", xerrors.InvalidRequest)
	}
	seq, err := d.resolveSeq(ctx, req.Ledger)
	if err != nil {
		return nil, err
	}
	hdr, err := d.iface.FetchLedgerBySeq(ctx, seq)
	if err != nil {
		return nil, err
	}

	resp := &LedgerResponse{
		Header:          *hdr,
		CompleteLedgers: d.iface.FetchCompleteLedgers(ctx),
		Validated:       true,
	}
	if req.Transactions {
		hashes, err := d.iface.FetchLedgerTxHashes(ctx, seq)
		if err != nil {
			return nil, err
		}
		resp.TxHashes = hashes
		if req.Expand {
			txs, err := d.iface.FetchTransactions(ctx, hashes)
			if err != nil {
				return nil, err
			}
			resp.Transactions = make([]ledger.Transaction, 0, len(txs))
			for _, tx := range txs {
				if tx != nil {
					resp.Transactions = append(resp.Transactions, *tx)
				}
			}
		}
	}
	return resp, nil
}

// LedgerRange answers the `ledger_range` method.
func (d *Dispatcher) LedgerRange(ctx context.Context) (*LedgerRangeResponse, error) {
	return &LedgerRangeResponse{CompleteLedgers: d.iface.FetchCompleteLedgers(ctx)}, nil
}

// LedgerEntry answers the `ledger_entry` method only when the caller has
// already resolved the specifier to a concrete key (e.g. a raw `index`
// hex string); any other specifier shape is ExternalOnly.
func (d *Dispatcher) LedgerEntry(ctx context.Context, req LedgerEntryRequest) (*LedgerEntryResponse, error) {
	if req.ResolvedKey == nil {
		return nil, fmt.Errorf("%w: rpcapi: ledger_entry specifier requires external resolution to a key", xerrors.InvalidRequest)
	}
	seq, err := d.resolveSeq(ctx, req.Ledger)
	if err != nil {
		return nil, err
	}
	blob, err := d.iface.FetchLedgerObject(ctx, *req.ResolvedKey, seq)
	if err != nil {
		return nil, err
	}
	return &LedgerEntryResponse{Key: *req.ResolvedKey, Blob: blob, Seq: seq}, nil
}

// AccountInfo is the same resolved-key shortcut as LedgerEntry, scoped to
// the `account_info` method's single-object shape.
func (d *Dispatcher) AccountInfo(ctx context.Context, req AccountInfoRequest) (*AccountInfoResponse, error) {
	if req.ResolvedKey == nil {
		return nil, fmt.Errorf("%w: rpcapi: account_info requires the account-root key resolved externally", xerrors.InvalidRequest)
	}
	seq, err := d.resolveSeq(ctx, req.Ledger)
	if err != nil {
		return nil, err
	}
	blob, err := d.iface.FetchLedgerObject(ctx, *req.ResolvedKey, seq)
	if err != nil {
		return nil, err
	}
	return &AccountInfoResponse{Account: req.Account, Blob: blob}, nil
}

// LedgerData answers the `ledger_data` method: one page of the live object
// set at a resolved sequence.
func (d *Dispatcher) LedgerData(ctx context.Context, req LedgerDataRequest) (*LedgerDataResponse, error) {
	seq, err := d.resolveSeq(ctx, req.Ledger)
	if err != nil {
		return nil, err
	}
	cursor, err := d.iface.DecodeMarker(ctx, req.Marker, seq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.InvalidRequest, err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 512
	}
	objs, next, _, err := d.iface.FetchLedgerPage(ctx, cursor, seq, limit)
	if err != nil {
		return nil, err
	}
	return &LedgerDataResponse{Objects: objs, Marker: next}, nil
}

// AccountObjects pages the live object set the same way LedgerData does;
// the account-ownership filter itself is applied by the external layer,
// since this repo's successor chain indexes by key, not by owner.
func (d *Dispatcher) AccountObjects(ctx context.Context, req AccountObjectsRequest) (*AccountObjectsResponse, error) {
	seq, err := d.resolveSeq(ctx, req.Ledger)
	if err != nil {
		return nil, err
	}
	cursor, err := d.iface.DecodeMarker(ctx, req.Marker, seq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.InvalidRequest, err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 512
	}
	objs, next, _, err := d.iface.FetchLedgerPage(ctx, cursor, seq, limit)
	if err != nil {
		return nil, err
	}
	return &AccountObjectsResponse{Objects: objs, Marker: next}, nil
}

// Tx answers the `tx` method.
func (d *Dispatcher) Tx(ctx context.Context, req TxRequest) (*TxResponse, error) {
	tx, err := d.iface.FetchTransaction(ctx, req.Hash)
	if err != nil {
		return nil, err
	}
	return &TxResponse{Transaction: *tx, Validated: true}, nil
}

// AccountTx answers the `account_tx` method.
func (d *Dispatcher) AccountTx(ctx context.Context, req AccountTxRequest) (*AccountTxResponse, error) {
	rows, cursor, err := d.iface.FetchAccountTransactions(ctx, req.Account, req.Limit, req.Forward, req.Cursor)
	if err != nil {
		return nil, err
	}
	return &AccountTxResponse{Account: req.Account, Rows: rows, Cursor: cursor}, nil
}

// NFTTransactions answers an nft_history-style method over the NFT
// transaction index.
func (d *Dispatcher) NFTTransactions(ctx context.Context, req NFTTxRequest) (*NFTTxResponse, error) {
	rows, cursor, err := d.iface.FetchNFTTransactions(ctx, req.TokenID, req.Limit, req.Forward, req.Cursor)
	if err != nil {
		return nil, err
	}
	return &NFTTxResponse{TokenID: req.TokenID, Rows: rows, Cursor: cursor}, nil
}

// errNotFoundIsExpected lets callers treat xerrors.NotFound the way the
// external layer should: a normal "no such entry" response, not a 500.
func errNotFoundIsExpected(err error) bool {
	return errors.Is(err, xerrors.NotFound)
}
