// Package queue implements the validated-ledger queue (C7): a bounded
// handoff of validated sequence numbers from the upstream sources, which
// push each one they observe, to the ETL extractor workers, which wait on
// them with WaitFor.
package queue

import (
	"context"
	"sync"

	"github.com/xrplf/xrplreport/internal/ledger"
)

// Queue holds the bounded backlog of validated ledger sequences plus a
// condition variable consumers can block on for "has seq reached at least
// N yet" without busy-polling.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	backlog  []ledger.Seq // ascending, deduplicated
	capacity int
	closed   bool
}

// New constructs a Queue that retains at most capacity pending sequences;
// Push blocks (honoring ctx) once that many are unconsumed.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	q := &Queue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues seq, blocking while the queue is at capacity. It returns
// ctx.Err() if ctx is canceled first, or an error if the queue was closed.
func (q *Queue) Push(ctx context.Context, seq ledger.Seq) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.backlog); !q.closed && n > 0 && seq <= q.backlog[n-1] {
		return nil
	}
	for len(q.backlog) >= q.capacity && !q.closed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		waitWithContext(ctx, q.cond)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if q.closed {
		return errClosed
	}
	q.backlog = append(q.backlog, seq)
	q.cond.Broadcast()
	return nil
}

// Pop blocks until at least one sequence is pending, then returns the
// oldest one.
func (q *Queue) Pop(ctx context.Context) (ledger.Seq, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.backlog) == 0 && !q.closed {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		waitWithContext(ctx, q.cond)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	if len(q.backlog) == 0 {
		return 0, errClosed
	}
	seq := q.backlog[0]
	q.backlog = q.backlog[1:]
	q.cond.Broadcast()
	return seq, nil
}

// WaitFor blocks until the highest pushed sequence is >= seq, without
// consuming anything — used by the ETL extractor workers to wait until the
// sequence they claimed has been validated.
func (q *Queue) WaitFor(ctx context.Context, seq ledger.Seq) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if len(q.backlog) > 0 && q.backlog[len(q.backlog)-1] >= seq {
			return nil
		}
		if q.closed {
			return errClosed
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		waitWithContext(ctx, q.cond)
	}
}

// Len reports the current backlog size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Close unblocks every pending Push/Pop/WaitFor with errClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// waitWithContext blocks on cond.Wait but also wakes up on ctx
// cancellation, at the cost of one extra goroutine per blocked waiter.
// sync.Cond has no native context support; this is the standard
// workaround.
func waitWithContext(ctx context.Context, cond *sync.Cond) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
		close(done)
	})
	defer stop()
	cond.Wait()
}
