package source

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/xrplf/xrplreport/internal/rpcwire"
	"github.com/xrplf/xrplreport/internal/subscription"
	"github.com/xrplf/xrplreport/internal/xlog"
)

// fullLapSleep is how long the balancer waits before restarting a lap of
// all sources once every one of them has failed a given op.
const fullLapSleep = 2 * time.Second

// forwarderReelectInterval bounds how stale the designated-forwarder
// selection can get relative to a source's connection state changing.
const forwarderReelectInterval = 500 * time.Millisecond

// Balancer is the upstream load balancer (C5): it holds the configured
// sources and, for every high-level op, picks a random starting index and
// tries sources in insertion order (wrapping) until one succeeds, sleeping
// fullLapSleep after an unbroken failed lap and trying again. It also
// maintains the single designated forwarder used to avoid duplicate
// proposed-transaction fan-out.
type Balancer struct {
	sources []*Source
	subs    *subscription.Registry
	log     xlog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBalancer constructs a Balancer over sources, preserving their given
// order — the designated-forwarder rule depends on that order.
func NewBalancer(sources []*Source, subs *subscription.Registry, log xlog.Logger, seed int64) *Balancer {
	return &Balancer{
		sources: sources,
		subs:    subs,
		log:     log.With("component", "balancer"),
		rnd:     rand.New(rand.NewSource(seed)),
	}
}

func (b *Balancer) startIndex() int {
	if len(b.sources) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rnd.Intn(len(b.sources))
}

// Run starts every source's subscription connection and continuously
// re-elects the designated forwarder until ctx is done.
func (b *Balancer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range b.sources {
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.Run(ctx)
		}()
	}

	ticker := time.NewTicker(forwarderReelectInterval)
	defer ticker.Stop()
	for {
		b.reelectForwarder()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			wg.Wait()
			return
		}
	}
}

// reelectForwarder sets the designated flag on the first source (in
// insertion order) whose subscription is connected, clearing it on every
// other source.
func (b *Balancer) reelectForwarder() {
	elected := false
	for _, src := range b.sources {
		if !elected && src.Connected() {
			src.SetDesignatedForwarder(true)
			elected = true
			continue
		}
		src.SetDesignatedForwarder(false)
	}
	b.subs.SetForwarder(elected)
}

// tryInOrder runs op against sources starting at a random index and
// advancing in order, returning the first success. After a full failed
// lap it sleeps fullLapSleep and restarts. It returns only on success or
// ctx cancellation, or at once with an error when sources is empty.
func (b *Balancer) tryInOrder(ctx context.Context, sources []*Source, op func(*Source) (any, error)) (any, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("source: no upstream sources configured")
	}
	for {
		var lastErr error
		for _, src := range sources {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			v, err := op(src)
			if err == nil {
				return v, nil
			}
			lastErr = err
		}
		b.log.Debug("full lap of upstream sources failed, sleeping before retry", "err", lastErr, "sleep", fullLapSleep)
		select {
		case <-time.After(fullLapSleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// FetchLedger retries FetchLedger across sources.
func (b *Balancer) FetchLedger(ctx context.Context, req rpcwire.GetLedgerRequest) (*rpcwire.GetLedgerResponse, error) {
	v, err := b.tryInOrder(ctx, b.rotated(), func(s *Source) (any, error) {
		return s.FetchLedger(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*rpcwire.GetLedgerResponse), nil
}

// FetchLedgerDataPage retries FetchLedgerDataPage across sources.
func (b *Balancer) FetchLedgerDataPage(ctx context.Context, req rpcwire.GetLedgerDataRequest) (*rpcwire.GetLedgerDataResponse, error) {
	v, err := b.tryInOrder(ctx, b.rotated(), func(s *Source) (any, error) {
		return s.FetchLedgerDataPage(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*rpcwire.GetLedgerDataResponse), nil
}

// Forward retries Forward across sources.
func (b *Balancer) Forward(ctx context.Context, req rpcwire.ForwardRequest) (*rpcwire.ForwardResponse, error) {
	v, err := b.tryInOrder(ctx, b.rotated(), func(s *Source) (any, error) {
		return s.Forward(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*rpcwire.ForwardResponse), nil
}

// rotated returns the configured sources reordered to start at a random
// index, preserving relative (wrapping) order.
func (b *Balancer) rotated() []*Source {
	n := len(b.sources)
	if n == 0 {
		return nil
	}
	start := b.startIndex()
	out := make([]*Source, n)
	for i := 0; i < n; i++ {
		out[i] = b.sources[(start+i)%n]
	}
	return out
}

// Close releases every source's gRPC channel.
func (b *Balancer) Close() error {
	var firstErr error
	for _, src := range b.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
