// Package reporting implements the backend interface / read-write façade
// (C3): cache-first reads over C1+C2, per-ledger write transactions, and
// the higher-level traversals (ledger page, book offers, NFT offers) built
// on top of the successor chain.
package reporting

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/xrplf/xrplreport/internal/backend"
	"github.com/xrplf/xrplreport/internal/cache"
	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/xerrors"
	"github.com/xrplf/xrplreport/internal/xlog"
	"github.com/xrplf/xrplreport/internal/xmetrics"
)

// Interface is the C3 façade. One Interface is shared by every reader and
// by the single ETL writer in a process.
type Interface struct {
	backend backend.Backend
	cache   *cache.Cache
	l2      *fastcache.Cache // optional, bounded; nil disables it
	hints   *cache.HintRing  // optional diff-hint ring; nil disables it
	metrics *xmetrics.Metrics
	log     xlog.Logger
	codec   Codec
}

// Option configures an Interface at construction.
type Option func(*Interface)

func WithMetrics(m *xmetrics.Metrics) Option { return func(i *Interface) { i.metrics = m } }
func WithCodec(c Codec) Option               { return func(i *Interface) { i.codec = c } }

// WithL2Cache attaches a fixed-capacity, self-evicting byte cache ahead of
// the backend: objects the MVCC cache (C2) has no opinion on (too cold to
// have been loaded, or the cache is disabled entirely) are served from here
// before falling through to Cassandra/Postgres. maxBytes bounds the cache's
// resident size.
func WithL2Cache(maxBytes int) Option {
	return func(i *Interface) { i.l2 = fastcache.New(maxBytes) }
}

// WithHintRing attaches the cache.num_diffs ring: every successful commit
// also records its diffs there, so a later restart can replay recent
// history into a fresh Cache before the background full load catches up.
func WithHintRing(r *cache.HintRing) Option {
	return func(i *Interface) { i.hints = r }
}

// ReplayHints seeds the cache with every diff the hint ring has retained,
// oldest first, as background entries — never overriding a fresher write
// the ETL writer has already applied. Called once at startup, before or
// alongside the background full loader.
func (i *Interface) ReplayHints(ctx context.Context) error {
	if i.hints == nil {
		return nil
	}
	for _, h := range i.hints.Load() {
		if err := i.cache.Update(h.Diffs, h.Seq, true); err != nil {
			return fmt.Errorf("reporting: replaying diff hint for seq %d: %w", h.Seq, err)
		}
	}
	return nil
}

// l2Key packs (key, seq) into the fixed-width byte string fastcache wants.
// seq is part of the key because the same object key can carry a different
// blob at different sequences; caching only the latest would answer
// historical reads (e.g. replay, online-delete's pre-collapse walk) wrong.
func l2Key(key ledger.Key, seq ledger.Seq) []byte {
	buf := make([]byte, len(key)+4)
	copy(buf, key[:])
	binary.BigEndian.PutUint32(buf[len(key):], uint32(seq))
	return buf
}

// l2 values carry a one-byte tag ahead of the payload so a tombstone can
// never collide with a live blob that happens to look like one.
const (
	l2TagLive      byte = 1
	l2TagTombstone byte = 0
)

// New builds a C3 façade over a concrete backend and cache.
func New(b backend.Backend, c *cache.Cache, opts ...Option) *Interface {
	i := &Interface{backend: b, cache: c, log: xlog.For("reporting")}
	for _, o := range opts {
		o(i)
	}
	if i.metrics == nil {
		i.metrics = xmetrics.Noop()
	}
	if i.codec == nil {
		i.codec = defaultCodec{}
	}
	return i
}

// Backend exposes the underlying store for components (e.g. online
// deletion callers) that need it directly.
func (i *Interface) Backend() backend.Backend { return i.backend }

// Cache exposes the underlying cache, e.g. for the background loader to
// attach to at startup.
func (i *Interface) Cache() *cache.Cache { return i.cache }

func (i *Interface) FetchLedgerBySeq(ctx context.Context, seq ledger.Seq) (*ledger.Header, error) {
	return i.backend.FetchLedgerBySeq(ctx, seq)
}

func (i *Interface) FetchLedgerByHash(ctx context.Context, h ledger.Hash) (*ledger.Header, error) {
	return i.backend.FetchLedgerByHash(ctx, h)
}

func (i *Interface) FetchLedgerRange(ctx context.Context) (*ledger.Range, error) {
	return i.backend.FetchLedgerRange(ctx)
}

// FetchCompleteLedgers renders the persisted range the way server_info and
// the ledgerClosed stream report it: "min-max" (a single number when min
// equals max), or "empty" when no ledger has been committed yet.
func (i *Interface) FetchCompleteLedgers(ctx context.Context) string {
	r, err := i.backend.FetchLedgerRange(ctx)
	if err != nil {
		return "empty"
	}
	return r.String()
}

// FetchLedgerObject is cache-first: a cache hit (live or tombstone) answers
// directly; a miss falls through to the backend. Seeding the cache from a
// read-miss is deliberately not done here — that would race non-background
// Update calls from the ETL writer; only the background loader and the
// writer mutate the cache.
func (i *Interface) FetchLedgerObject(ctx context.Context, key ledger.Key, seq ledger.Seq) (ledger.Blob, error) {
	if blob, found, live := i.cache.Get(key, seq); found {
		i.metrics.CacheHitsTotal.Inc()
		if !live {
			return nil, xerrors.NotFound
		}
		return blob, nil
	}
	i.metrics.CacheMissesTotal.Inc()

	if i.l2 != nil {
		if raw, ok := i.l2.HasGet(nil, l2Key(key, seq)); ok && len(raw) > 0 {
			if raw[0] == l2TagTombstone {
				return nil, xerrors.NotFound
			}
			return ledger.Blob(raw[1:]), nil
		}
	}

	blob, err := i.backend.FetchLedgerObject(ctx, key, seq)
	if err != nil {
		if i.l2 != nil && errors.Is(err, xerrors.NotFound) {
			i.l2.Set(l2Key(key, seq), []byte{l2TagTombstone})
		}
		return nil, err
	}
	if i.l2 != nil {
		i.l2.Set(l2Key(key, seq), append([]byte{l2TagLive}, blob...))
	}
	return blob, nil
}

// FetchLedgerObjects fans out concurrently, preserving input order in the
// result slice.
func (i *Interface) FetchLedgerObjects(ctx context.Context, keys []ledger.Key, seq ledger.Seq) ([]ledger.Blob, error) {
	out := make([]ledger.Blob, len(keys))
	errs := make([]error, len(keys))
	var wg sync.WaitGroup
	for idx, k := range keys {
		idx, k := idx, k
		wg.Add(1)
		go func() {
			defer wg.Done()
			blob, err := i.FetchLedgerObject(ctx, k, seq)
			if err != nil {
				errs[idx] = err
				return
			}
			out[idx] = blob
		}()
	}
	wg.Wait()
	for idx, err := range errs {
		if err != nil && err != xerrors.NotFound {
			return nil, fmt.Errorf("reporting: fetching key %d of %d: %w", idx, len(keys), err)
		}
	}
	return out, nil
}

// FetchSuccessor is cache-first, falling through to the backend's versioned
// successor table on a miss.
func (i *Interface) FetchSuccessor(ctx context.Context, key ledger.Key, seq ledger.Seq) (*ledger.Key, error) {
	if k, _, ok := i.cache.Successor(key, seq); ok {
		i.metrics.CacheHitsTotal.Inc()
		return &k, nil
	}
	if i.cache.IsFull() {
		// The cache is authoritative: if it found nothing, there is
		// nothing, regardless of what it returned above.
		i.metrics.CacheHitsTotal.Inc()
		return nil, xerrors.NotFound
	}
	i.metrics.CacheMissesTotal.Inc()
	return i.backend.FetchSuccessor(ctx, key, seq)
}

// FetchPredecessor is the symmetric downward lookup, used by the
// transformer to derive successor diffs for newly created keys.
func (i *Interface) FetchPredecessor(ctx context.Context, key ledger.Key, seq ledger.Seq) (*ledger.Key, error) {
	if k, _, ok := i.cache.Predecessor(key, seq); ok {
		return &k, nil
	}
	if i.cache.IsFull() {
		return nil, xerrors.NotFound
	}
	return i.backend.FetchPredecessor(ctx, key, seq)
}

func (i *Interface) FetchTransaction(ctx context.Context, h ledger.Hash) (*ledger.Transaction, error) {
	return i.backend.FetchTransaction(ctx, h)
}

func (i *Interface) FetchTransactions(ctx context.Context, hashes []ledger.Hash) ([]*ledger.Transaction, error) {
	out := make([]*ledger.Transaction, len(hashes))
	errs := make([]error, len(hashes))
	var wg sync.WaitGroup
	for idx, h := range hashes {
		idx, h := idx, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := i.backend.FetchTransaction(ctx, h)
			if err != nil {
				errs[idx] = err
				return
			}
			out[idx] = tx
		}()
	}
	wg.Wait()
	for idx, err := range errs {
		if err != nil && err != xerrors.NotFound {
			return nil, fmt.Errorf("reporting: fetching tx %d of %d: %w", idx, len(hashes), err)
		}
	}
	return out, nil
}

func (i *Interface) FetchAccountTransactions(ctx context.Context, account ledger.AccountID, limit int, forward bool, cursor *backend.AccountTxCursor) ([]ledger.AccountTx, *backend.AccountTxCursor, error) {
	return i.backend.FetchAccountTransactions(ctx, account, limit, forward, cursor)
}

func (i *Interface) FetchNFTState(ctx context.Context, tokenID ledger.Hash, seq ledger.Seq) (*ledger.NFTState, error) {
	return i.backend.FetchNFTState(ctx, tokenID, seq)
}

func (i *Interface) FetchNFTTransactions(ctx context.Context, tokenID ledger.Hash, limit int, forward bool, cursor *backend.AccountTxCursor) ([]ledger.NFTTx, *backend.AccountTxCursor, error) {
	return i.backend.FetchNFTTransactions(ctx, tokenID, limit, forward, cursor)
}

func (i *Interface) FetchLedgerTxHashes(ctx context.Context, seq ledger.Seq) ([]ledger.Hash, error) {
	return i.backend.FetchLedgerTxHashes(ctx, seq)
}

// --- Writer passthrough: the ETL writer is the sole caller of these. ---

func (i *Interface) StartWrites(ctx context.Context) error { return i.backend.StartWrites(ctx) }

func (i *Interface) WriteLedger(ctx context.Context, h ledger.Header) error {
	return i.backend.WriteLedger(ctx, h)
}

func (i *Interface) WriteLedgerObject(ctx context.Context, o ledger.Object) error {
	return i.backend.WriteLedgerObject(ctx, o)
}

func (i *Interface) WriteSuccessor(ctx context.Context, s ledger.Successor) error {
	return i.backend.WriteSuccessor(ctx, s)
}

func (i *Interface) WriteTransaction(ctx context.Context, t ledger.Transaction) error {
	return i.backend.WriteTransaction(ctx, t)
}

func (i *Interface) WriteAccountTransactions(ctx context.Context, rows []ledger.AccountTx) error {
	return i.backend.WriteAccountTransactions(ctx, rows)
}

func (i *Interface) WriteNFTState(ctx context.Context, n ledger.NFTState) error {
	return i.backend.WriteNFTState(ctx, n)
}

func (i *Interface) WriteNFTTransactions(ctx context.Context, rows []ledger.NFTTx) error {
	return i.backend.WriteNFTTransactions(ctx, rows)
}

// FinishWrites commits the pending transaction, then advances the cache's
// view of the world with the same diffs the writer already applied to the
// backend, keeping the invariant that the cache and backend agree once the
// cache is full. Callers pass the same diffs they wrote via
// WriteLedgerObject, since the backend does not hand them back.
func (i *Interface) FinishWrites(ctx context.Context, seq ledger.Seq, diffs []ledger.ObjectDiff) (bool, error) {
	ok, err := i.backend.FinishWrites(ctx, seq)
	if err != nil {
		i.metrics.ETLWriteConflictsTotal.Add(0) // no increment: this is an infra error, not a conflict
		return false, err
	}
	if !ok {
		i.metrics.ETLWriteConflictsTotal.Inc()
		return false, nil
	}
	if latest, have := i.cache.LatestSeq(); have && latest == seq {
		// Idempotent replay of an already-applied commit: the cache already
		// reflects seq, and by the per-(key,seq) idempotency invariant diffs
		// is identical to what was applied the first time.
		return true, nil
	}
	if err := i.cache.Update(diffs, seq, false); err != nil {
		return true, fmt.Errorf("reporting: updating cache after commit: %w", err)
	}
	if i.hints != nil {
		if err := i.hints.Record(seq, diffs); err != nil {
			i.log.Warn("recording diff hint", "seq", seq, "err", err)
		}
	}
	i.metrics.ETLWritesTotal.Inc()
	return true, nil
}

// DecodeMarker resolves a ledger_data/account_objects marker string to a
// cursor key, accepting both this repo's own hex-encoded key form and the
// legacy integer-sub-sequence form one older RPC version still sends (see
// backend.DecodeMarker). It uses Interface itself as the page reader for
// the legacy walk, so the resolution benefits from cache-first reads.
func (i *Interface) DecodeMarker(ctx context.Context, raw string, seq ledger.Seq) (*ledger.Key, error) {
	return backend.DecodeMarker(ctx, i, raw, seq)
}

// DoOnlineDelete runs the online-deletion collapse-then-delete algorithm via the backend, using this
// Interface itself as the page reader so the walk benefits from cache-first
// reads where possible.
func (i *Interface) DoOnlineDelete(ctx context.Context, keepMin ledger.Seq) error {
	return i.backend.DoOnlineDelete(ctx, pageReaderAdapter{i}, keepMin)
}

// pageReaderAdapter satisfies backend.PageReader without exposing
// Interface's full surface to the backend package (which would create an
// import cycle, since Interface already imports backend).
type pageReaderAdapter struct{ i *Interface }

func (p pageReaderAdapter) FetchLedgerPage(ctx context.Context, cursor *ledger.Key, seq ledger.Seq, limit int) ([]ledger.Object, *ledger.Key, bool, error) {
	return p.i.FetchLedgerPage(ctx, cursor, seq, limit)
}
