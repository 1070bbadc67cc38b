// Package subscription implements the subscription fan-out (C8): per-stream
// and per-account subscriber registries that publish validated-ledger and
// transaction events to WebSocket sinks without holding a lock across sink
// I/O, plus the designated-forwarder bookkeeping needed when a reporting
// node is fed by more than one redundant upstream source.
package subscription

import (
	"sync"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/xlog"
	"github.com/xrplf/xrplreport/internal/xmetrics"
)

// Stream names the built-in broadcast channels a client can subscribe to.
type Stream string

const (
	StreamLedger       Stream = "ledger"
	StreamTransactions Stream = "transactions"
	StreamValidations  Stream = "validations"
	StreamManifests    Stream = "manifests"
)

// Sink receives published events. Implementations (a WebSocket connection
// wrapper) must not block indefinitely — Publish calls Sink.Send with the
// registry's lock already released, but a slow sink still stalls whichever
// goroutine is publishing to it.
type Sink interface {
	Send(payload []byte) error
	ID() string
}

// LedgerEvent is the payload shape of a StreamLedger publication.
type LedgerEvent struct {
	Header          ledger.Header
	TxCount         int
	CompleteLedgers string
}

// TransactionEvent is published on StreamTransactions and to any account
// subscribers whose account appears in the transaction.
type TransactionEvent struct {
	Tx       ledger.Transaction
	Accounts []ledger.AccountID
}

// Registry holds every stream and per-account subscriber set for one
// process. The zero value is not usable; construct with New.
type Registry struct {
	mu       sync.RWMutex
	streams  map[Stream]map[string]Sink
	accounts map[ledger.AccountID]map[string]Sink

	metrics *xmetrics.Metrics
	log     xlog.Logger

	forwarderMu  sync.Mutex
	isForwarder  bool
}

type Option func(*Registry)

func WithMetrics(m *xmetrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

func New(opts ...Option) *Registry {
	r := &Registry{
		streams:  make(map[Stream]map[string]Sink),
		accounts: make(map[ledger.AccountID]map[string]Sink),
		log:      xlog.For("subscription"),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = xmetrics.Noop()
	}
	return r
}

// Subscribe registers sink on stream.
func (r *Registry) Subscribe(stream Stream, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.streams[stream]
	if !ok {
		set = make(map[string]Sink)
		r.streams[stream] = set
	}
	set[sink.ID()] = sink
}

// Unsubscribe removes sink from stream.
func (r *Registry) Unsubscribe(stream Stream, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams[stream], sink.ID())
}

// SubscribeAccount registers sink for every transaction touching account.
func (r *Registry) SubscribeAccount(account ledger.AccountID, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.accounts[account]
	if !ok {
		set = make(map[string]Sink)
		r.accounts[account] = set
	}
	set[sink.ID()] = sink
}

func (r *Registry) UnsubscribeAccount(account ledger.AccountID, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts[account], sink.ID())
	if len(r.accounts[account]) == 0 {
		delete(r.accounts, account)
	}
}

// RemoveSink drops sink from every stream and account it was registered
// under, for use on connection close.
func (r *Registry) RemoveSink(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, set := range r.streams {
		delete(set, sink.ID())
	}
	for acct, set := range r.accounts {
		delete(set, sink.ID())
		if len(set) == 0 {
			delete(r.accounts, acct)
		}
	}
}

// snapshot copies the current sink set for stream under the read lock, so
// Publish can iterate and call Sink.Send without holding it.
func (r *Registry) snapshot(stream Stream) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.streams[stream]
	out := make([]Sink, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

func (r *Registry) snapshotAccount(account ledger.AccountID) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.accounts[account]
	out := make([]Sink, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// PublishLedger fans a LedgerEvent out to every StreamLedger subscriber.
// The registry lock is held only long enough to copy the subscriber list;
// Sink.Send calls happen afterward so one slow client cannot stall
// Subscribe/Unsubscribe calls from every other connection.
func (r *Registry) PublishLedger(evt LedgerEvent, encode func(LedgerEvent) ([]byte, error)) {
	sinks := r.snapshot(StreamLedger)
	if len(sinks) == 0 {
		return
	}
	payload, err := encode(evt)
	if err != nil {
		r.log.Error("encoding ledger event", "err", err)
		return
	}
	for _, s := range sinks {
		if err := s.Send(payload); err != nil {
			r.log.Debug("sink send failed", "sink", s.ID(), "err", err)
		}
	}
	r.metrics.SubscriptionFanoutTotal.WithLabelValues(string(StreamLedger)).Add(float64(len(sinks)))
}

// PublishTransaction fans a TransactionEvent out to StreamTransactions
// subscribers and to every account subscriber named in evt.Accounts,
// without double-sending to a sink registered under both.
func (r *Registry) PublishTransaction(evt TransactionEvent, encode func(TransactionEvent) ([]byte, error)) {
	seen := make(map[string]struct{})
	sinks := r.snapshot(StreamTransactions)
	for _, acct := range evt.Accounts {
		sinks = append(sinks, r.snapshotAccount(acct)...)
	}
	deduped := sinks[:0:0]
	for _, s := range sinks {
		if _, dup := seen[s.ID()]; dup {
			continue
		}
		seen[s.ID()] = struct{}{}
		deduped = append(deduped, s)
	}
	if len(deduped) == 0 {
		return
	}
	payload, err := encode(evt)
	if err != nil {
		r.log.Error("encoding transaction event", "err", err)
		return
	}
	for _, s := range deduped {
		if err := s.Send(payload); err != nil {
			r.log.Debug("sink send failed", "sink", s.ID(), "err", err)
		}
	}
	r.metrics.SubscriptionFanoutTotal.WithLabelValues(string(StreamTransactions)).Add(float64(len(deduped)))
}

// SetForwarder records whether this process relays upstream network
// messages (manifests, validations) onto its own subscribers. The
// process's Balancer sets it to whether one of its upstream sources is the
// designated forwarder; there is no election among reporting nodes that
// share a backend.
func (r *Registry) SetForwarder(is bool) {
	r.forwarderMu.Lock()
	defer r.forwarderMu.Unlock()
	r.isForwarder = is
}

func (r *Registry) IsForwarder() bool {
	r.forwarderMu.Lock()
	defer r.forwarderMu.Unlock()
	return r.isForwarder
}

// PublishRaw fans an already-encoded payload out to stream's subscribers,
// used for the manifest/validation streams that the forwarder relays
// verbatim from the upstream source without any local decode/re-encode.
func (r *Registry) PublishRaw(stream Stream, payload []byte) {
	if !r.IsForwarder() {
		return
	}
	sinks := r.snapshot(stream)
	for _, s := range sinks {
		if err := s.Send(payload); err != nil {
			r.log.Debug("sink send failed", "sink", s.ID(), "err", err)
		}
	}
	r.metrics.SubscriptionFanoutTotal.WithLabelValues(string(stream)).Add(float64(len(sinks)))
}
