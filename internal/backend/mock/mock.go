// Package mock implements backend.Backend entirely in memory. It is the
// `database.type = "mock"` selection, used for tests and for `read_only`
// deployments layered in front of another process's writes in integration
// tests.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/xrplf/xrplreport/internal/backend"
	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/xerrors"
)

type objVersion struct {
	seq     ledger.Seq
	blob    ledger.Blob
	deleted bool
}

type succVersion struct {
	seq  ledger.Seq
	next ledger.Key
}

type nftVersion struct {
	seq    ledger.Seq
	owner  ledger.AccountID
	burned bool
	uri    ledger.Blob
}

// Backend is an in-memory, mutex-guarded implementation of backend.Backend.
type Backend struct {
	mu sync.RWMutex

	headers   map[ledger.Seq]ledger.Header
	hashIndex map[ledger.Hash]ledger.Seq

	objects    map[ledger.Key][]objVersion
	successors map[ledger.Key][]succVersion

	transactions map[ledger.Hash]ledger.Transaction
	ledgerTxSets map[ledger.Seq][]ledger.Hash
	accountTx    map[ledger.AccountID][]ledger.AccountTx

	nftState map[ledger.Hash][]nftVersion
	nftTx    map[ledger.Hash][]ledger.NFTTx

	haveRange bool
	rng       ledger.Range

	pending *pendingWrites
}

type pendingWrites struct {
	header       *ledger.Header
	objects      []ledger.Object
	successors   []ledger.Successor
	transactions []ledger.Transaction
	accountTx    []ledger.AccountTx
	nftState     []ledger.NFTState
	nftTx        []ledger.NFTTx
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{
		headers:      make(map[ledger.Seq]ledger.Header),
		hashIndex:    make(map[ledger.Hash]ledger.Seq),
		objects:      make(map[ledger.Key][]objVersion),
		successors:   make(map[ledger.Key][]succVersion),
		transactions: make(map[ledger.Hash]ledger.Transaction),
		ledgerTxSets: make(map[ledger.Seq][]ledger.Hash),
		accountTx:    make(map[ledger.AccountID][]ledger.AccountTx),
		nftState:     make(map[ledger.Hash][]nftVersion),
		nftTx:        make(map[ledger.Hash][]ledger.NFTTx),
	}
}

func (b *Backend) Close() error { return nil }

// --- Reader ---

func (b *Backend) FetchLedgerBySeq(ctx context.Context, seq ledger.Seq) (*ledger.Header, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.headers[seq]
	if !ok {
		return nil, xerrors.NotFound
	}
	return &h, nil
}

func (b *Backend) FetchLedgerByHash(ctx context.Context, h ledger.Hash) (*ledger.Header, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seq, ok := b.hashIndex[h]
	if !ok {
		return nil, xerrors.NotFound
	}
	hdr := b.headers[seq]
	return &hdr, nil
}

func (b *Backend) FetchLedgerRange(ctx context.Context) (*ledger.Range, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.haveRange {
		return nil, xerrors.NotFound
	}
	r := b.rng
	return &r, nil
}

// findVersion returns the newest version with seq <= at, or nil if none.
func findVersion(versions []objVersion, at ledger.Seq) *objVersion {
	// versions is kept sorted ascending by seq.
	idx := sort.Search(len(versions), func(i int) bool { return versions[i].seq > at })
	if idx == 0 {
		return nil
	}
	return &versions[idx-1]
}

func (b *Backend) FetchLedgerObject(ctx context.Context, key ledger.Key, seq ledger.Seq) (ledger.Blob, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v := findVersion(b.objects[key], seq)
	if v == nil || v.deleted {
		return nil, xerrors.NotFound
	}
	return v.blob, nil
}

func findSuccVersion(versions []succVersion, at ledger.Seq) *succVersion {
	idx := sort.Search(len(versions), func(i int) bool { return versions[i].seq > at })
	if idx == 0 {
		return nil
	}
	return &versions[idx-1]
}

func (b *Backend) FetchSuccessor(ctx context.Context, key ledger.Key, seq ledger.Seq) (*ledger.Key, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v := findSuccVersion(b.successors[key], seq)
	if v == nil {
		return nil, xerrors.NotFound
	}
	next := v.next
	return &next, nil
}

// FetchPredecessor scans the (small, test-scale) key space for the
// successor link whose Next equals key. The Postgres backend looks this up
// through its index on next; the Cassandra backend has no reverse index and
// scans as well.
func (b *Backend) FetchPredecessor(ctx context.Context, key ledger.Key, seq ledger.Seq) (*ledger.Key, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var best *ledger.Key
	for k, versions := range b.successors {
		v := findSuccVersion(versions, seq)
		if v == nil || v.next != key {
			continue
		}
		kk := k
		if best == nil || best.Less(kk) {
			best = &kk
		}
	}
	if best == nil {
		return nil, xerrors.NotFound
	}
	return best, nil
}

func (b *Backend) FetchTransaction(ctx context.Context, h ledger.Hash) (*ledger.Transaction, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.transactions[h]
	if !ok {
		return nil, xerrors.NotFound
	}
	return &t, nil
}

func (b *Backend) FetchLedgerTxHashes(ctx context.Context, seq ledger.Seq) ([]ledger.Hash, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hs, ok := b.ledgerTxSets[seq]
	if !ok {
		return nil, xerrors.NotFound
	}
	out := make([]ledger.Hash, len(hs))
	copy(out, hs)
	return out, nil
}

func (b *Backend) FetchAccountTransactions(ctx context.Context, account ledger.AccountID, limit int, forward bool, cursor *backend.AccountTxCursor) ([]ledger.AccountTx, *backend.AccountTxCursor, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows := append([]ledger.AccountTx(nil), b.accountTx[account]...)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Seq != rows[j].Seq {
			return rows[i].Seq > rows[j].Seq
		}
		return rows[i].Index > rows[j].Index
	})
	if forward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	start := 0
	if cursor != nil {
		for i, r := range rows {
			if r.Seq == cursor.Seq && r.Index == cursor.Index {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}
	if start > len(rows) {
		start = len(rows)
	}
	page := rows[start:end]
	var next *backend.AccountTxCursor
	if end < len(rows) && len(page) > 0 {
		last := page[len(page)-1]
		next = &backend.AccountTxCursor{Seq: last.Seq, Index: last.Index}
	}
	return page, next, nil
}

func (b *Backend) FetchNFTState(ctx context.Context, tokenID ledger.Hash, seq ledger.Seq) (*ledger.NFTState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	versions := b.nftState[tokenID]
	idx := sort.Search(len(versions), func(i int) bool { return versions[i].seq > seq })
	if idx == 0 {
		return nil, xerrors.NotFound
	}
	v := versions[idx-1]
	return &ledger.NFTState{TokenID: tokenID, Seq: v.seq, Owner: v.owner, Burned: v.burned, URI: v.uri}, nil
}

func (b *Backend) FetchNFTTransactions(ctx context.Context, tokenID ledger.Hash, limit int, forward bool, cursor *backend.AccountTxCursor) ([]ledger.NFTTx, *backend.AccountTxCursor, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows := append([]ledger.NFTTx(nil), b.nftTx[tokenID]...)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Seq != rows[j].Seq {
			return rows[i].Seq > rows[j].Seq
		}
		return rows[i].Index > rows[j].Index
	})
	if forward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	start := 0
	if cursor != nil {
		for i, r := range rows {
			if r.Seq == cursor.Seq && r.Index == cursor.Index {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}
	if start > len(rows) {
		start = len(rows)
	}
	page := rows[start:end]
	var next *backend.AccountTxCursor
	if end < len(rows) && len(page) > 0 {
		last := page[len(page)-1]
		next = &backend.AccountTxCursor{Seq: last.Seq, Index: last.Index}
	}
	return page, next, nil
}
