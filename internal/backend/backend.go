// Package backend defines the capability trait every KV/columnar store
// implementation (Cassandra, Postgres, the in-memory mock) must satisfy.
// This is the "backend store adapter" (C1): typed, idempotent-per-(key,seq)
// operations with no cache-awareness of their own.
package backend

import (
	"context"

	"github.com/xrplf/xrplreport/internal/ledger"
)

// Backend is the full C1 capability surface. Every implementation must make
// writes within one StartWrites/FinishWrites scope atomically visible at
// FinishWrites, and must make FinishWrites(seq) fail (return false, nil)
// rather than error when another writer already advanced the tip to >= seq.
type Backend interface {
	Reader
	Writer

	// Close releases any held connections/sessions.
	Close() error
}

// Reader is the read-only subset of Backend, sufficient for a process that
// never writes (a pure read-replica reporting node).
type Reader interface {
	FetchLedgerBySeq(ctx context.Context, seq ledger.Seq) (*ledger.Header, error)
	FetchLedgerByHash(ctx context.Context, h ledger.Hash) (*ledger.Header, error)
	FetchLedgerRange(ctx context.Context) (*ledger.Range, error)

	// FetchLedgerObject returns the value live at seq, or nil if the key
	// does not exist or is tombstoned at or before seq.
	FetchLedgerObject(ctx context.Context, key ledger.Key, seq ledger.Seq) (ledger.Blob, error)

	// FetchSuccessor returns the versioned successor link for key at seq:
	// the next live key strictly greater than key.
	FetchSuccessor(ctx context.Context, key ledger.Key, seq ledger.Seq) (*ledger.Key, error)

	// FetchPredecessor is the symmetric lookup, used by the transformer to
	// derive successor diffs and by the cache's predecessor navigation.
	FetchPredecessor(ctx context.Context, key ledger.Key, seq ledger.Seq) (*ledger.Key, error)

	FetchTransaction(ctx context.Context, h ledger.Hash) (*ledger.Transaction, error)
	FetchLedgerTxHashes(ctx context.Context, seq ledger.Seq) ([]ledger.Hash, error)

	// FetchAccountTransactions returns up to limit rows for account, in
	// descending (seq, index) order when forward is false, ascending when
	// true, starting after cursor if non-nil.
	FetchAccountTransactions(ctx context.Context, account ledger.AccountID, limit int, forward bool, cursor *AccountTxCursor) ([]ledger.AccountTx, *AccountTxCursor, error)

	FetchNFTState(ctx context.Context, tokenID ledger.Hash, seq ledger.Seq) (*ledger.NFTState, error)
	FetchNFTTransactions(ctx context.Context, tokenID ledger.Hash, limit int, forward bool, cursor *AccountTxCursor) ([]ledger.NFTTx, *AccountTxCursor, error)
}

// AccountTxCursor paginates FetchAccountTransactions/FetchNFTTransactions.
type AccountTxCursor struct {
	Seq   ledger.Seq
	Index uint32
}

// Writer accumulates one ledger's writes and commits them atomically.
type Writer interface {
	// StartWrites begins a new per-ledger write transaction. Concurrent
	// StartWrites from the same process is undefined behavior; from a
	// different process it is the write-conflict case resolved at
	// FinishWrites.
	StartWrites(ctx context.Context) error

	WriteLedger(ctx context.Context, h ledger.Header) error
	WriteLedgerObject(ctx context.Context, o ledger.Object) error
	WriteSuccessor(ctx context.Context, s ledger.Successor) error
	WriteTransaction(ctx context.Context, t ledger.Transaction) error
	WriteAccountTransactions(ctx context.Context, rows []ledger.AccountTx) error
	WriteNFTState(ctx context.Context, n ledger.NFTState) error
	WriteNFTTransactions(ctx context.Context, rows []ledger.NFTTx) error

	// FinishWrites commits the accumulated writes and attempts to advance
	// LedgerRange's tip to seq. It returns false, nil (not an error) when
	// the tip was already >= seq, signaling a concurrent writer won.
	FinishWrites(ctx context.Context, seq ledger.Seq) (bool, error)

	// DoOnlineDelete implements the bounded-retention algorithm: collapse
	// history before keepMin into a baseline at keepMin, then drop rows
	// older than keepMin.
	DoOnlineDelete(ctx context.Context, reader PageReader, keepMin ledger.Seq) error
}

// PageReader is the subset of the higher-level reporting façade (C3) the
// backend needs to walk live state while performing online deletion; it is
// satisfied by *reporting.Interface to avoid backend importing reporting
// (which imports backend), breaking the dependency cycle.
type PageReader interface {
	FetchLedgerPage(ctx context.Context, cursor *ledger.Key, seq ledger.Seq, limit int) (objects []ledger.Object, next *ledger.Key, warning bool, err error)
}
