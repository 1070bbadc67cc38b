// Package etl implements the extract/transform/load pipeline (C6): the
// control loop that walks Init -> LoadInitial -> ExtractLoop -> ReadOnly,
// the bounded raw-ledger extraction stage, the in-order transformer, and
// the single-threaded write stage.
package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/queue"
	"github.com/xrplf/xrplreport/internal/reporting"
	"github.com/xrplf/xrplreport/internal/subscription"
	"github.com/xrplf/xrplreport/internal/xerrors"
	"github.com/xrplf/xrplreport/internal/xlog"
	"github.com/xrplf/xrplreport/internal/xmetrics"
)

// readOnlyPollInterval bounds how often a read-only (or write-conflict
// demoted) controller checks the backend for a newly committed ledger.
const readOnlyPollInterval = 1 * time.Second

// Config bundles the controller's tunables, sourced from the process
// configuration file.
type Config struct {
	ExtractorThreads int
	NumMarkers       int
	ReadOnly         bool
	StartSequence    *uint32
	FinishSequence   *uint32
}

// Controller drives the C6 state machine for one process.
type Controller struct {
	cfg     Config
	iface   *reporting.Interface
	bal     upstream
	queue   *queue.Queue
	subs    *subscription.Registry
	metrics *xmetrics.Metrics
	log     xlog.Logger
	meta    MetaDecoder

	state State
}

// New constructs a Controller. bal and q may be nil when cfg.ReadOnly is
// set, since a read-only process never extracts from upstream. bal is
// typically a *source.Balancer; it only needs to satisfy the narrow
// upstream interface this package requires.
func New(cfg Config, iface *reporting.Interface, bal upstream, q *queue.Queue, subs *subscription.Registry, metrics *xmetrics.Metrics) *Controller {
	if cfg.ExtractorThreads < 1 {
		cfg.ExtractorThreads = 1
	}
	if cfg.NumMarkers < 1 {
		cfg.NumMarkers = 16
	}
	return &Controller{
		cfg:     cfg,
		iface:   iface,
		bal:     bal,
		queue:   q,
		subs:    subs,
		metrics: metrics,
		log:     xlog.For("etl-controller"),
		meta:    NoopMetaDecoder{},
		state:   Init,
	}
}

// WithMetaDecoder overrides the default no-op transaction-metadata decoder.
func (c *Controller) WithMetaDecoder(m MetaDecoder) *Controller {
	c.meta = m
	return c
}

// State reports the controller's current position in the state machine.
func (c *Controller) State() State { return c.state }

// Run drives the controller until ctx is canceled and then returns ctx's
// error; any other return is an error that stopped the pipeline.
func (c *Controller) Run(ctx context.Context) error {
	c.state = Init
	c.log.Info("starting etl control loop")

	rng, err := c.iface.FetchLedgerRange(ctx)
	if err != nil && !errors.Is(err, xerrors.NotFound) {
		return fmt.Errorf("etl: reading persisted ledger range: %w", err)
	}

	if c.cfg.ReadOnly {
		c.state = ReadOnly
		c.log.Info("configured read-only, skipping extraction", "range", rangeString(rng))
		return c.runReadOnly(ctx, rng)
	}

	var nextSeq ledger.Seq
	switch {
	case rng == nil && c.cfg.StartSequence != nil:
		c.state = LoadInitial
		start := ledger.Seq(*c.cfg.StartSequence)
		c.log.Info("no persisted range, running initial load", "start", start)
		if err := c.runInitialLoad(ctx, start); err != nil {
			return fmt.Errorf("etl: initial load: %w", err)
		}
		nextSeq = start + 1
	case rng == nil:
		return fmt.Errorf("etl: no persisted ledger range and no start_sequence configured")
	default:
		nextSeq = rng.Max + 1
		c.log.Info("resuming extraction", "range", rangeString(rng), "next", nextSeq)
	}

	c.state = ExtractLoop
	return c.runExtractLoop(ctx, nextSeq)
}

func rangeString(r *ledger.Range) string {
	if r == nil {
		return "empty"
	}
	return r.String()
}

// runReadOnly polls the backend's persisted tip and republishes newly
// committed ledgers to C8 without ever writing, for a process sharing a
// backend with a writer elsewhere. Re-entering ExtractLoop from ReadOnly is
// only ever done by restarting the process with read_only cleared.
func (c *Controller) runReadOnly(ctx context.Context, rng *ledger.Range) error {
	var last ledger.Seq
	if rng != nil {
		last = rng.Max
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		cur, err := c.iface.FetchLedgerRange(ctx)
		if err != nil && !errors.Is(err, xerrors.NotFound) {
			c.log.Warn("read-only poll failed", "err", err)
		} else if cur != nil && cur.Max > last {
			for seq := last + 1; seq <= cur.Max; seq++ {
				hdr, err := c.iface.FetchLedgerBySeq(ctx, seq)
				if err != nil {
					c.log.Warn("read-only poll: fetching header", "seq", seq, "err", err)
					break
				}
				c.subs.PublishLedger(subscription.LedgerEvent{
					Header:          *hdr,
					CompleteLedgers: c.iface.FetchCompleteLedgers(ctx),
				}, encodeJSON[subscription.LedgerEvent])
				last = seq
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readOnlyPollInterval):
		}
	}
}

func (c *Controller) runExtractLoop(ctx context.Context, start ledger.Seq) error {
	write := newWriteStage(c.iface, c.subs, c.metrics)
	xform := &transformer{iface: c.iface, meta: c.meta}
	raw := newReorderBuffer(start)
	defer raw.close()

	pool := newExtractorPool(c.bal, c.queue, raw, start, c.log)
	extractCtx, cancelExtract := context.WithCancel(ctx)
	defer cancelExtract()
	go pool.run(extractCtx, c.cfg.ExtractorThreads)

	var prevHeader *ledger.Header
	if start > 1 {
		hdr, err := c.iface.FetchLedgerBySeq(ctx, start-1)
		if err != nil {
			return fmt.Errorf("etl: fetching prior header %d: %w", start-1, err)
		}
		prevHeader = hdr
	}

	for {
		if c.cfg.FinishSequence != nil && start > ledger.Seq(*c.cfg.FinishSequence) {
			c.log.Info("reached configured finish_sequence, transitioning to read-only", "finish_sequence", *c.cfg.FinishSequence)
			c.state = ReadOnly
			cancelExtract()
			rng, rerr := c.iface.FetchLedgerRange(ctx)
			if rerr != nil && !errors.Is(rerr, xerrors.NotFound) {
				return fmt.Errorf("etl: reading range at finish_sequence: %w", rerr)
			}
			return c.runReadOnly(ctx, rng)
		}

		rl, err := raw.popNext(ctx)
		if err != nil {
			return ctx.Err()
		}
		c.metrics.ETLSequenceLag.Set(float64(raw.pendingCount()))

		tl, err := xform.transform(ctx, rl, prevHeader)
		if err != nil {
			return fmt.Errorf("etl: transforming ledger %d: %w", rl.seq, err)
		}

		ok, err := write.apply(ctx, tl)
		if err != nil {
			return fmt.Errorf("etl: applying ledger %d: %w", rl.seq, err)
		}
		if !ok {
			c.log.Warn("write conflict committing ledger, transitioning to read-only", "seq", rl.seq)
			c.state = ReadOnly
			cancelExtract()
			rng, rerr := c.iface.FetchLedgerRange(ctx)
			if rerr != nil && !errors.Is(rerr, xerrors.NotFound) {
				return fmt.Errorf("etl: reading range after write conflict: %w", rerr)
			}
			return c.runReadOnly(ctx, rng)
		}

		h := tl.Header
		prevHeader = &h
		start = rl.seq + 1
	}
}

