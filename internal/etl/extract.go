package etl

import (
	"context"
	"sync/atomic"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/queue"
	"github.com/xrplf/xrplreport/internal/rpcwire"
	"github.com/xrplf/xrplreport/internal/xlog"
)

// upstream is the subset of the balancer the ETL pipeline needs, satisfied
// by *source.Balancer; a narrow interface so tests can substitute a fake
// that never dials out.
type upstream interface {
	FetchLedger(ctx context.Context, req rpcwire.GetLedgerRequest) (*rpcwire.GetLedgerResponse, error)
	FetchLedgerDataPage(ctx context.Context, req rpcwire.GetLedgerDataRequest) (*rpcwire.GetLedgerDataResponse, error)
}

// extractorPool runs extractorThreads workers, each repeatedly claiming
// the next unclaimed sequence from a shared counter, waiting for it to be
// reported validated on C7, fetching it via C5, and pushing the result
// into the raw queue. Claiming takes one of rawQueueCapacity slots, which
// bounds how many sequences are claimed but not yet pushed; a worker gives
// its slot back right after the push, so entries waiting in the raw queue
// hold no slot and the raw queue itself has no size limit.
type extractorPool struct {
	src   upstream
	q     *queue.Queue
	raw   *reorderBuffer
	log   xlog.Logger
	next  atomic.Uint32
	slots chan struct{}
}

const rawQueueCapacity = 64

func newExtractorPool(src upstream, q *queue.Queue, raw *reorderBuffer, start ledger.Seq, log xlog.Logger) *extractorPool {
	p := &extractorPool{src: src, q: q, raw: raw, log: log.With("component", "extractor")}
	p.next.Store(uint32(start))
	p.slots = make(chan struct{}, rawQueueCapacity)
	for i := 0; i < rawQueueCapacity; i++ {
		p.slots <- struct{}{}
	}
	return p
}

// run starts threads extractor workers and blocks until ctx is canceled.
func (p *extractorPool) run(ctx context.Context, threads int) {
	if threads < 1 {
		threads = 1
	}
	done := make(chan struct{})
	for i := 0; i < threads; i++ {
		go func() {
			p.worker(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < threads; i++ {
		<-done
	}
}

func (p *extractorPool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.slots:
		}

		seq := ledger.Seq(p.next.Add(1) - 1)

		if err := p.q.WaitFor(ctx, seq); err != nil {
			p.slots <- struct{}{}
			return
		}

		// The balancer already retries a fetch across every configured
		// source, sleeping between laps, until one succeeds or ctx ends —
		// so an error here means ctx was canceled.
		resp, err := p.src.FetchLedger(ctx, rpcwire.GetLedgerRequest{Sequence: uint32(seq), IncludeObjects: true, IncludeTxns: true})
		if err != nil {
			p.slots <- struct{}{}
			return
		}

		p.raw.push(rawLedger{seq: seq, resp: resp})
		p.slots <- struct{}{}
	}
}
