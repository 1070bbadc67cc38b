// Package cache implements the versioned, MVCC-flavored ledger-object cache
// (C2): point lookups and ordered successor/predecessor navigation over an
// in-memory projection of LedgerObject history, kept current by the ETL
// writer's per-ledger updates and, optionally, a background full load.
package cache

import (
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/xmetrics"
)

type versionEntry struct {
	seq        ledger.Seq
	blob       ledger.Blob
	deleted    bool
	background bool
}

// Cache is the in-memory ledger-object cache The zero
// value is not usable; construct with New.
type Cache struct {
	mu sync.RWMutex

	tree     *btree.BTreeG[ledger.Key]
	versions map[ledger.Key][]versionEntry // descending by seq, head = newest

	latestSeq ledger.Seq
	haveSeq   bool
	full      bool
	disabled  bool

	metrics *xmetrics.Metrics
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithMetrics attaches a metrics sink; defaults to a no-op registry.
func WithMetrics(m *xmetrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Disabled marks the cache as never answering reads, to save memory on
// nodes that never serve reads directly (cache.load = none plus no local
// RPC surface).
func Disabled() Option {
	return func(c *Cache) { c.disabled = true }
}

// New constructs an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		tree:     btree.NewG(32, func(a, b ledger.Key) bool { return a.Less(b) }),
		versions: make(map[ledger.Key][]versionEntry),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = xmetrics.Noop()
	}
	return c
}

// IsDisabled reports whether the cache was constructed with Disabled().
func (c *Cache) IsDisabled() bool { return c.disabled }

// IsFull reports whether a background full load (or non-background updates
// from genesis) has made the cache authoritative for "absent" answers.
func (c *Cache) IsFull() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.full
}

// LatestSeq returns the highest sequence reflected in the cache.
func (c *Cache) LatestSeq() (ledger.Seq, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latestSeq, c.haveSeq
}

// SetFull marks the cache as ready to answer "absent" definitively. Called
// once the background loader finishes all markers.
func (c *Cache) SetFull() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = true
}

// Update applies a batch of object diffs atomically under an exclusive
// lock. Non-background callers (the ETL writer) must supply seq ==
// latestSeq+1, or any seq if the cache has not observed a sequence yet;
// Update advances latestSeq. Background callers (the cache's own bulk
// loader and the diff-hint replay) pass background=true and the sequence
// their data was read at; each entry is stored as one more version at that
// sequence, so a newer version already held for the key still answers
// reads at later sequences, and it never replaces a non-background entry
// at the same sequence. A background batch only ever moves latestSeq
// forward.
func (c *Cache) Update(diffs []ledger.ObjectDiff, seq ledger.Seq, background bool) error {
	if c.disabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !background {
		if c.haveSeq && seq != c.latestSeq+1 {
			return errNonSequentialUpdate(c.latestSeq, seq)
		}
	}

	for _, d := range diffs {
		entry := versionEntry{seq: seq, blob: d.Blob, deleted: d.Deleted, background: background}
		updated, applied := insertDescending(c.versions[d.Key], entry)
		if !applied {
			// A background entry never overwrites an authoritative write
			// already recorded at the exact same sequence; the writer's
			// value for that sequence is definitive.
			continue
		}
		c.versions[d.Key] = updated
		if _, ok := c.tree.Get(d.Key); !ok {
			c.tree.ReplaceOrInsert(d.Key)
		}
	}

	if !background {
		c.latestSeq = seq
		c.haveSeq = true
	} else if !c.haveSeq || seq > c.latestSeq {
		// A background batch may observe a seq that is itself the
		// starting snapshot; track it so LatestSeq() is meaningful before
		// the first ETL update arrives.
		c.latestSeq = seq
		c.haveSeq = true
	}
	return nil
}

// insertDescending inserts entry into a descending-by-seq slice. If an
// entry already exists for the same seq, a background entry yields to a
// prior non-background entry (applied=false, versions unchanged);
// otherwise the existing entry is replaced (idempotent re-application).
func insertDescending(versions []versionEntry, entry versionEntry) (result []versionEntry, applied bool) {
	idx := sort.Search(len(versions), func(i int) bool { return versions[i].seq <= entry.seq })
	if idx < len(versions) && versions[idx].seq == entry.seq {
		if entry.background && !versions[idx].background {
			return versions, false
		}
		versions[idx] = entry
		return versions, true
	}
	versions = append(versions, versionEntry{})
	copy(versions[idx+1:], versions[idx:])
	versions[idx] = entry
	return versions, true
}

// Get locates K's newest version with version <= seq. found reports
// whether the cache holds an opinion at all (true) vs. a definite miss that
// must fall through to the backend; live reports whether that opinion is a
// live blob (false for tombstone or no-opinion-yet).
func (c *Cache) Get(key ledger.Key, seq ledger.Seq) (blob ledger.Blob, found bool, live bool) {
	if c.disabled {
		return nil, false, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	versions := c.versions[key]
	for _, v := range versions {
		if v.seq <= seq {
			if v.deleted {
				return nil, true, false
			}
			return v.blob, true, true
		}
	}
	// No version known at or before seq. If the cache is authoritative
	// (full), that is a definite "absent"; otherwise it's an open miss.
	return nil, c.full, false
}

// Successor walks the ordered key set from the first key > key, returning
// the first key whose Get at seq resolves live.
func (c *Cache) Successor(key ledger.Key, seq ledger.Seq) (ledger.Key, ledger.Blob, bool) {
	if c.disabled {
		return ledger.Key{}, nil, false
	}
	if key == ledger.LastKey {
		return ledger.Key{}, nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result ledger.Key
	var blob ledger.Blob
	ok := false
	c.tree.AscendGreaterOrEqual(nextKey(key), func(k ledger.Key) bool {
		versions := c.versions[k]
		for _, v := range versions {
			if v.seq <= seq {
				if !v.deleted {
					result, blob, ok = k, v.blob, true
					return false
				}
				break
			}
		}
		return true
	})
	return result, blob, ok
}

// Predecessor is the symmetric downward scan.
func (c *Cache) Predecessor(key ledger.Key, seq ledger.Seq) (ledger.Key, ledger.Blob, bool) {
	if c.disabled {
		return ledger.Key{}, nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result ledger.Key
	var blob ledger.Blob
	ok := false
	c.tree.DescendLessOrEqual(prevKey(key), func(k ledger.Key) bool {
		versions := c.versions[k]
		for _, v := range versions {
			if v.seq <= seq {
				if !v.deleted {
					result, blob, ok = k, v.blob, true
					return false
				}
				break
			}
		}
		return true
	})
	return result, blob, ok
}

// nextKey returns the smallest key strictly greater than k, used to make
// AscendGreaterOrEqual behave like "ascend strictly greater than".
func nextKey(k ledger.Key) ledger.Key {
	out := k
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out
		}
		out[i] = 0
	}
	return out // k was all-0xff (LastKey); wraps to FirstKey, so Successor returns before calling this for LastKey
}

// prevKey returns the largest key strictly less than k.
func prevKey(k ledger.Key) ledger.Key {
	out := k
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] > 0 {
			out[i]--
			return out
		}
		out[i] = 0xff
	}
	return out
}
