package cache

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xrplf/xrplreport/internal/ledger"
)

// PageSource is the subset of the backend-interface façade the background
// loader needs: a page walk over live objects at a fixed sequence.
type PageSource interface {
	FetchLedgerPage(ctx context.Context, cursor *ledger.Key, seq ledger.Seq, limit int) (objects []ledger.Object, next *ledger.Key, warning bool, err error)
}

// LoadOptions configures the background full-load protocol.
type LoadOptions struct {
	Markers  int // default 48
	PageSize int // default 512
}

func (o LoadOptions) withDefaults() LoadOptions {
	if o.Markers <= 0 {
		o.Markers = 48
	}
	if o.PageSize <= 0 {
		o.PageSize = 512
	}
	return o
}

// BackgroundLoad walks the backend's live state at seq in parallel from
// opts.Markers starting points spread over the key space, pushing each page
// to Update with background=true, and calls SetFull once every walk has
// completed. Each walk runs from its starting point to the end of the key
// space, so the walks overlap and an entry can be applied more than once;
// re-applying it at the same seq stores the same value again.
// It must not hold the cache's exclusive lock across an entire page: Update
// already takes the lock per batch, not for the whole load, satisfying that
// requirement.
func (c *Cache) BackgroundLoad(ctx context.Context, src PageSource, seq ledger.Seq, opts LoadOptions) error {
	opts = opts.withDefaults()
	start := time.Now()
	defer func() { c.metrics.CacheBackgroundLoadDuration.Observe(time.Since(start).Seconds()) }()

	markers := partitionKeySpace(opts.Markers)
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range markers {
		m := m
		g.Go(func() error {
			return c.loadPartition(ctx, src, seq, m, opts.PageSize)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.SetFull()
	return nil
}

func (c *Cache) loadPartition(ctx context.Context, src PageSource, seq ledger.Seq, start ledger.Key, pageSize int) error {
	cursor := &start
	for {
		objs, next, _, err := src.FetchLedgerPage(ctx, cursor, seq, pageSize)
		if err != nil {
			return err
		}
		diffs := make([]ledger.ObjectDiff, 0, len(objs))
		for _, o := range objs {
			diffs = append(diffs, ledger.ObjectDiff{Key: o.Key, Blob: o.Blob, Deleted: o.Deleted})
		}
		if len(diffs) > 0 {
			if err := c.Update(diffs, seq, true); err != nil {
				return err
			}
		}
		if next == nil {
			return nil
		}
		cursor = next
	}
}

// partitionKeySpace splits the 256-bit key space into n roughly-equal
// starting points, each used as the cursor seed for one marker's scan.
func partitionKeySpace(n int) []ledger.Key {
	if n <= 1 {
		return []ledger.Key{ledger.FirstKey}
	}
	out := make([]ledger.Key, n)
	// Divide the space by varying the first byte only; with more than 256
	// markers the step is 1 and starting points repeat.
	step := 256 / n
	if step == 0 {
		step = 1
	}
	for i := 0; i < n; i++ {
		var k ledger.Key
		k[0] = byte((i * step) % 256)
		out[i] = k
	}
	out[0] = ledger.FirstKey
	return out
}
