package source

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrplf/xrplreport/internal/config"
	"github.com/xrplf/xrplreport/internal/subscription"
	"github.com/xrplf/xrplreport/internal/xlog"
	"github.com/xrplf/xrplreport/internal/xmetrics"
)

type fakeSink struct {
	id  string
	mu  sync.Mutex
	got [][]byte
}

func (f *fakeSink) ID() string { return f.id }
func (f *fakeSink) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, append([]byte(nil), payload...))
	return nil
}
func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func newTestSource(t *testing.T, ip string, subs *subscription.Registry) *Source {
	t.Helper()
	return New(config.EtlSource{IP: ip, WSPort: 6006, GRPCPort: 50051}, nil, nil, subs, xmetrics.Noop(), xlog.For("test"))
}

// TestDesignatedForwarderIsFirstConnectedInInsertionOrder covers two
// sources both connected, where only the first in insertion order is
// elected forwarder; only it may relay a proposed transaction exactly
// once.
func TestDesignatedForwarderIsFirstConnectedInInsertionOrder(t *testing.T) {
	subs := subscription.New()
	a := newTestSource(t, "a", subs)
	b := newTestSource(t, "b", subs)
	bal := NewBalancer([]*Source{a, b}, subs, xlog.For("test"), 1)

	a.setState(Reading)
	b.setState(Reading)
	bal.reelectForwarder()

	require.True(t, a.designated.Load())
	require.False(t, b.designated.Load())
	require.True(t, subs.IsForwarder())

	sink := &fakeSink{id: "sink"}
	subs.Subscribe(subscription.StreamTransactions, sink)

	a.handleMessage(context.Background(), []byte(`{"transaction":"T1"}`))
	b.handleMessage(context.Background(), []byte(`{"transaction":"T1"}`))

	require.Equal(t, 1, sink.count(), "exactly one publish, from the designated forwarder")
}

// TestDesignatedForwarderHandsOffOnDisconnect covers A disconnecting and B
// taking over as forwarder for subsequent traffic.
func TestDesignatedForwarderHandsOffOnDisconnect(t *testing.T) {
	subs := subscription.New()
	a := newTestSource(t, "a", subs)
	b := newTestSource(t, "b", subs)
	bal := NewBalancer([]*Source{a, b}, subs, xlog.For("test"), 1)

	a.setState(Reading)
	b.setState(Reading)
	bal.reelectForwarder()
	require.True(t, a.designated.Load())

	a.setState(Disconnected)
	bal.reelectForwarder()

	require.False(t, a.designated.Load())
	require.True(t, b.designated.Load())

	sink := &fakeSink{id: "sink"}
	subs.Subscribe(subscription.StreamTransactions, sink)

	a.handleMessage(context.Background(), []byte(`{"transaction":"T2"}`))
	b.handleMessage(context.Background(), []byte(`{"transaction":"T2"}`))

	require.Equal(t, 1, sink.count())
}

func TestReelectForwarderClearsWhenNoneConnected(t *testing.T) {
	subs := subscription.New()
	a := newTestSource(t, "a", subs)
	bal := NewBalancer([]*Source{a}, subs, xlog.For("test"), 1)

	bal.reelectForwarder()
	require.False(t, a.designated.Load())
	require.False(t, subs.IsForwarder())
}
