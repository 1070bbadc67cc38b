package etl

import (
	"context"
	"sync"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/rpcwire"
)

// rawLedger is one extractor worker's output: an unvalidated payload for a
// single sequence, which may arrive out of order relative to other
// in-flight sequences.
type rawLedger struct {
	seq  ledger.Seq
	resp *rpcwire.GetLedgerResponse
}

// reorderBuffer is the pipeline's raw queue: extraction may complete out of
// order, but the transformer consumes strictly in sequence order. Entries
// are keyed by sequence rather than held in a plain channel so an
// out-of-order arrival doesn't block ones that arrive after it.
type reorderBuffer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    ledger.Seq
	pending map[ledger.Seq]rawLedger
	closed  bool
}

func newReorderBuffer(start ledger.Seq) *reorderBuffer {
	b := &reorderBuffer{next: start, pending: make(map[ledger.Seq]rawLedger)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push inserts rl, waking any popNext waiting for it.
func (b *reorderBuffer) push(rl rawLedger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pending[rl.seq] = rl
	b.cond.Broadcast()
}

// popNext blocks until the next sequence in order is available, then
// returns it and advances the expected sequence by one.
func (b *reorderBuffer) popNext(ctx context.Context) (rawLedger, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	for {
		if rl, ok := b.pending[b.next]; ok {
			delete(b.pending, b.next)
			b.next++
			return rl, nil
		}
		if b.closed {
			return rawLedger{}, errClosed
		}
		if ctx.Err() != nil {
			return rawLedger{}, ctx.Err()
		}
		b.cond.Wait()
	}
}

// pendingCount reports how many out-of-order entries are buffered,
// independent of whether they're next in line — reported as the
// etl_sequence_lag gauge.
func (b *reorderBuffer) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *reorderBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
