package etl

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/rpcwire"
)

// markerPageLimit bounds how many objects one ledger_data page request asks
// the upstream for at a time.
const markerPageLimit = 2048

// runInitialLoad implements the background full-state load: the 256-bit key
// space is split into cfg.NumMarkers equal ranges, each walked independently
// by paging the upstream's ledger_data RPC from that range's starting key;
// every (key, blob) pair is written directly at seq (no tombstones, since
// nothing has been persisted yet). Once every marker's walk completes, the
// combined key set is sorted and spliced into a full successor chain, the
// header is fetched and written, and LedgerRange is committed as [seq, seq].
func (c *Controller) runInitialLoad(ctx context.Context, seq ledger.Seq) error {
	starts := partitionKeySpace(c.cfg.NumMarkers)

	if err := c.iface.StartWrites(ctx); err != nil {
		return fmt.Errorf("etl: starting initial load write scope: %w", err)
	}

	keySets := make([][]ledger.Key, len(starts))
	g, gctx := errgroup.WithContext(ctx)
	for i, start := range starts {
		i, start := i, start
		g.Go(func() error {
			keys, err := c.loadMarker(gctx, seq, start, i)
			if err != nil {
				return err
			}
			keySets[i] = keys
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("etl: initial load marker walk: %w", err)
	}

	var allKeys []ledger.Key
	for _, ks := range keySets {
		allKeys = append(allKeys, ks...)
	}
	sort.Slice(allKeys, func(i, j int) bool {
		return allKeys[i].Less(allKeys[j])
	})

	if err := c.writeSuccessorChain(ctx, seq, allKeys); err != nil {
		return err
	}

	hdr, err := c.bal.FetchLedger(ctx, rpcwire.GetLedgerRequest{Sequence: uint32(seq)})
	if err != nil {
		return fmt.Errorf("etl: fetching header for initial load seq %d: %w", seq, err)
	}
	if err := c.iface.WriteLedger(ctx, hdr.Header); err != nil {
		return fmt.Errorf("etl: writing header for initial load seq %d: %w", seq, err)
	}

	ok, err := c.iface.FinishWrites(ctx, seq, nil)
	if err != nil {
		return fmt.Errorf("etl: finishing initial load writes: %w", err)
	}
	if !ok {
		return fmt.Errorf("etl: initial load lost a write race committing seq %d", seq)
	}
	c.log.Info("initial load complete", "seq", seq, "objects", len(allKeys), "markers", len(starts))
	return nil
}

// loadMarker pages through one key-space partition starting at start,
// writing every object it sees directly, and returns the full set of keys
// it wrote (needed afterward to build the successor chain).
func (c *Controller) loadMarker(ctx context.Context, seq ledger.Seq, start []byte, markerIdx int) ([]ledger.Key, error) {
	// The walk stops where the next partition begins.
	var end *ledger.Key
	if starts := partitionKeySpace(c.cfg.NumMarkers); markerIdx+1 < len(starts) {
		var k ledger.Key
		copy(k[:], starts[markerIdx+1])
		end = &k
	}

	var keys []ledger.Key
	marker := start
	for {
		page, err := c.bal.FetchLedgerDataPage(ctx, rpcwire.GetLedgerDataRequest{
			Sequence: uint32(seq),
			Marker:   marker,
			Limit:    markerPageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("marker %d: fetching page: %w", markerIdx, err)
		}
		for _, obj := range page.Objects {
			if end != nil && !obj.Key.Less(*end) {
				return keys, nil
			}
			if err := c.iface.WriteLedgerObject(ctx, ledger.Object{Key: obj.Key, Seq: seq, Blob: obj.Blob}); err != nil {
				return nil, fmt.Errorf("marker %d: writing object %s: %w", markerIdx, obj.Key, err)
			}
			keys = append(keys, obj.Key)
		}
		if page.Marker == nil {
			return keys, nil
		}
		marker = page.Marker
	}
}

// writeSuccessorChain links every key in sorted order, terminating both
// ends with the sentinel FIRST_KEY/LAST_KEY values.
func (c *Controller) writeSuccessorChain(ctx context.Context, seq ledger.Seq, sorted []ledger.Key) error {
	prev := ledger.FirstKey
	for _, k := range sorted {
		if err := c.iface.WriteSuccessor(ctx, ledger.Successor{Key: prev, Seq: seq, Next: k}); err != nil {
			return fmt.Errorf("etl: writing successor chain link for %s: %w", prev, err)
		}
		prev = k
	}
	if err := c.iface.WriteSuccessor(ctx, ledger.Successor{Key: prev, Seq: seq, Next: ledger.LastKey}); err != nil {
		return fmt.Errorf("etl: writing final successor chain link: %w", err)
	}
	return nil
}

// partitionKeySpace splits the 256-bit key space into n equal-width ranges
// and returns each range's starting key as a big-endian byte slice, the
// marker format the upstream's ledger_data RPC expects. The first range's
// start is FIRST_KEY (nil, meaning "begin from the top").
func partitionKeySpace(n int) [][]byte {
	if n < 1 {
		n = 1
	}
	total := new(big.Int).Lsh(big.NewInt(1), 256)
	step := new(big.Int).Div(total, big.NewInt(int64(n)))

	starts := make([][]byte, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			starts[0] = nil
			continue
		}
		v := new(big.Int).Mul(step, big.NewInt(int64(i)))
		buf := make([]byte, 32)
		v.FillBytes(buf)
		starts[i] = buf
	}
	return starts
}
