package source

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	grpcretry "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xrplf/xrplreport/internal/config"
	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/queue"
	"github.com/xrplf/xrplreport/internal/rpcwire"
	"github.com/xrplf/xrplreport/internal/subscription"
	"github.com/xrplf/xrplreport/internal/xlog"
	"github.com/xrplf/xrplreport/internal/xmetrics"
)

// perStateTimeout bounds every connection-state-machine state except
// Reading; expiry drops the source back to Disconnected.
const perStateTimeout = 30 * time.Second

// Source is one upstream peer (C4): a subscription connection driven by a
// single state machine plus a best-effort gRPC channel for per-ledger
// fetch and initial load.
type Source struct {
	cfg   config.EtlSource
	tls   *tls.Config // nil selects plain connections
	queue *queue.Queue
	subs  *subscription.Registry

	metrics *xmetrics.Metrics
	log     xlog.Logger

	mu             sync.RWMutex
	state          connState
	connected      bool
	validatedRange []ledger.Range
	lastMsgTime    time.Time
	paused         bool

	grpcMu   sync.Mutex
	grpcConn *grpc.ClientConn

	// designated is set by the Balancer (C5): true for exactly the one
	// source whose proposed-transaction/manifest/validation traffic
	// should be relayed to C8, implementing the designated-forwarder rule.
	designated atomic.Bool
}

// New constructs a Source. tlsConfig may be nil to dial plain WS/gRPC.
func New(cfg config.EtlSource, tlsConfig *tls.Config, q *queue.Queue, subs *subscription.Registry, metrics *xmetrics.Metrics, log xlog.Logger) *Source {
	return &Source{
		cfg:     cfg,
		tls:     tlsConfig,
		queue:   q,
		subs:    subs,
		metrics: metrics,
		log:     log.With("source", cfg.IP),
	}
}

func (s *Source) setState(st connState) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.connected = st == Reading
	s.mu.Unlock()
	if prev != st {
		s.log.Debug("connection state transition", "from", prev.String(), "to", st.String())
	}
	if s.metrics != nil {
		v := 0.0
		if st == Reading {
			v = 1
		}
		s.metrics.UpstreamSourceConnected.WithLabelValues(s.cfg.IP).Set(v)
	}
}

// Connected reports whether the subscription stream is currently in the
// Reading state — used by the load balancer's designated-forwarder rule.
func (s *Source) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ValidatedRanges returns the most recently parsed validated_ledgers set.
func (s *Source) ValidatedRanges() []ledger.Range {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Range, len(s.validatedRange))
	copy(out, s.validatedRange)
	return out
}

// HasValidated reports whether seq has been reported as validated by this
// source's subscription stream.
func (s *Source) HasValidated(seq ledger.Seq) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return containsSeq(s.validatedRange, seq)
}

// SetDesignatedForwarder is called by the Balancer to mark or unmark this
// source as the one whose proposed-tx/manifest/validation traffic gets
// relayed downstream.
func (s *Source) SetDesignatedForwarder(v bool) {
	s.designated.Store(v)
}

// IP identifies the source for logging.
func (s *Source) IP() string { return s.cfg.IP }

// Pause stops Run from reconnecting until Resume is called, without
// disturbing an already-established connection.
func (s *Source) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume allows Run to reconnect again after a Pause.
func (s *Source) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *Source) isPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *Source) wsURL() string {
	scheme := "ws"
	if s.tls != nil {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.cfg.IP, s.cfg.WSPort)
}

// Run drives the subscription connection state machine until ctx is
// canceled: dial, handshake, subscribe, then read messages until the peer
// drops or a per-state timeout fires, backing off before reconnecting.
// It only returns once ctx is done.
func (s *Source) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry forever; only ctx cancellation stops us

	for ctx.Err() == nil {
		if s.isPaused() {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if err := s.runOnce(ctx); err != nil {
			s.log.Warn("subscription connection failed", "err", err)
		}
		s.setState(Disconnected)
		if ctx.Err() != nil {
			return
		}
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce performs exactly one DISCONNECTED→...→READING→(error) cycle.
func (s *Source) runOnce(ctx context.Context) error {
	s.setState(Resolving)
	stateCtx, cancel := context.WithTimeout(ctx, perStateTimeout)
	defer cancel()

	s.setState(Connecting)
	dialer := *websocket.DefaultDialer
	if s.tls != nil {
		dialer.TLSClientConfig = s.tls
	}
	conn, _, err := dialer.DialContext(stateCtx, s.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("source: dialing %s: %w", s.wsURL(), err)
	}
	defer conn.Close()
	if dl, ok := stateCtx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}

	if s.tls != nil {
		s.setState(TLSHandshaking)
	}
	s.setState(Handshaking)
	if err := conn.WriteJSON(map[string]any{
		"command": "subscribe",
		"streams": []string{"ledger", "transactions_proposed", "manifests", "validations"},
	}); err != nil {
		return fmt.Errorf("source: sending subscribe: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	s.setState(Subscribed)
	s.setState(Reading)
	s.mu.Lock()
	s.lastMsgTime = time.Now()
	s.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("source: reading subscription stream: %w", err)
		}
		s.mu.Lock()
		s.lastMsgTime = time.Now()
		s.mu.Unlock()
		s.handleMessage(ctx, raw)
	}
}

// handleMessage inspects one subscription-stream payload: a
// validated_ledgers field updates local state, a ledger_index enqueues to
// C7, and a proposed-transaction payload is relayed only if this source is
// the designated forwarder.
func (s *Source) handleMessage(ctx context.Context, raw []byte) {
	var msg subscriptionMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Debug("discarding unparseable subscription message", "err", err)
		return
	}

	if msg.ValidatedLedgers != "" {
		ranges := parseValidatedLedgers(msg.ValidatedLedgers)
		s.mu.Lock()
		s.validatedRange = ranges
		s.mu.Unlock()
	}

	var withIndex struct {
		LedgerIndex *uint32 `json:"ledger_index"`
	}
	_ = json.Unmarshal(raw, &withIndex)
	if withIndex.LedgerIndex != nil {
		if err := s.queue.Push(ctx, ledger.Seq(*withIndex.LedgerIndex)); err != nil {
			s.log.Debug("dropping ledger_index enqueue", "err", err)
		}
	}

	if !s.designated.Load() {
		return
	}
	if msg.TransactionType != "" || msg.Type == "transaction" {
		s.subs.PublishRaw(subscription.StreamTransactions, raw)
		return
	}
	switch msg.Type {
	case "manifest":
		s.subs.PublishRaw(subscription.StreamManifests, raw)
	case "validationReceived":
		s.subs.PublishRaw(subscription.StreamValidations, raw)
	}
}

// grpcChannel lazily dials the source's per-ledger-fetch gRPC channel,
// reusing it across calls; Source-level retry/backoff is the load
// balancer's job, not this channel's.
func (s *Source) grpcChannel() (*grpc.ClientConn, error) {
	s.grpcMu.Lock()
	defer s.grpcMu.Unlock()
	if s.grpcConn != nil {
		return s.grpcConn, nil
	}

	var creds credentials.TransportCredentials
	if s.tls != nil {
		creds = credentials.NewTLS(s.tls)
	} else {
		creds = insecure.NewCredentials()
	}

	retryOpts := []grpcretry.CallOption{
		grpcretry.WithMax(1), // the load balancer handles cross-source retry; this only covers transient local hiccups
		grpcretry.WithBackoff(grpcretry.BackoffLinear(200 * time.Millisecond)),
	}
	conn, err := grpc.Dial(
		fmt.Sprintf("%s:%d", s.cfg.IP, s.cfg.GRPCPort),
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(grpcretry.UnaryClientInterceptor(retryOpts...)),
	)
	if err != nil {
		return nil, fmt.Errorf("source: dialing grpc channel: %w", err)
	}
	s.grpcConn = conn
	return conn, nil
}

// Healthy performs a standard gRPC health check against the source's
// per-ledger channel.
func (s *Source) Healthy(ctx context.Context) bool {
	conn, err := s.grpcChannel()
	if err != nil {
		return false
	}
	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return false
	}
	return resp.Status == grpc_health_v1.HealthCheckResponse_SERVING
}

// FetchLedger retrieves one full ledger (header, and optionally objects
// and/or transactions) over the gRPC channel. Best-effort: callers retry
// against another source on error.
func (s *Source) FetchLedger(ctx context.Context, req rpcwire.GetLedgerRequest) (*rpcwire.GetLedgerResponse, error) {
	conn, err := s.grpcChannel()
	if err != nil {
		return nil, err
	}
	var resp rpcwire.GetLedgerResponse
	if err := conn.Invoke(ctx, "/xrplreport.Source/GetLedger", &req, &resp, grpc.CallContentSubtype(rpcwire.CodecName())); err != nil {
		return nil, fmt.Errorf("source: GetLedger: %w", err)
	}
	return &resp, nil
}

// FetchLedgerDataPage retrieves one page of a ledger's full object state,
// used by the initial/background load against an upstream peer.
func (s *Source) FetchLedgerDataPage(ctx context.Context, req rpcwire.GetLedgerDataRequest) (*rpcwire.GetLedgerDataResponse, error) {
	conn, err := s.grpcChannel()
	if err != nil {
		return nil, err
	}
	var resp rpcwire.GetLedgerDataResponse
	if err := conn.Invoke(ctx, "/xrplreport.Source/GetLedgerData", &req, &resp, grpc.CallContentSubtype(rpcwire.CodecName())); err != nil {
		return nil, fmt.Errorf("source: GetLedgerData: %w", err)
	}
	return &resp, nil
}

// Forward opens a short-lived WebSocket, writes the caller's opaque JSON
// request, reads exactly one response, and closes the connection. Used to
// proxy requests (fee estimation, path finding, tx submission) that only a
// full consensus peer can answer.
func (s *Source) Forward(ctx context.Context, req rpcwire.ForwardRequest) (*rpcwire.ForwardResponse, error) {
	dialer := *websocket.DefaultDialer
	if s.tls != nil {
		dialer.TLSClientConfig = s.tls
	}
	conn, _, err := dialer.DialContext(ctx, s.wsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("source: forward dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, req.Params); err != nil {
		return nil, fmt.Errorf("source: forward write: %w", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("source: forward read: %w", err)
	}
	return &rpcwire.ForwardResponse{Result: raw}, nil
}

// Close releases the gRPC channel, if one was opened.
func (s *Source) Close() error {
	s.grpcMu.Lock()
	defer s.grpcMu.Unlock()
	if s.grpcConn != nil {
		err := s.grpcConn.Close()
		s.grpcConn = nil
		return err
	}
	return nil
}
