package subscription

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrplf/xrplreport/internal/ledger"
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
	f.got = append(f.got, payload)
	return nil
}
func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func encodeLedger(e LedgerEvent) ([]byte, error) { return json.Marshal(e) }
func encodeTx(e TransactionEvent) ([]byte, error) { return json.Marshal(e) }

func TestPublishLedgerFansOutToStreamSubscribers(t *testing.T) {
	r := New()
	a, b := &fakeSink{id: "a"}, &fakeSink{id: "b"}
	r.Subscribe(StreamLedger, a)
	r.Subscribe(StreamLedger, b)

	r.PublishLedger(LedgerEvent{Header: ledger.Header{Seq: 1}}, encodeLedger)

	require.Equal(t, 1, a.count())
	require.Equal(t, 1, b.count())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := New()
	a := &fakeSink{id: "a"}
	r.Subscribe(StreamLedger, a)
	r.Unsubscribe(StreamLedger, a)

	r.PublishLedger(LedgerEvent{}, encodeLedger)
	require.Equal(t, 0, a.count())
}

func TestPublishTransactionDoesNotDoubleSendToDualSubscriber(t *testing.T) {
	r := New()
	acct := ledger.AccountID{1}
	sink := &fakeSink{id: "dual"}
	r.Subscribe(StreamTransactions, sink)
	r.SubscribeAccount(acct, sink)

	r.PublishTransaction(TransactionEvent{Accounts: []ledger.AccountID{acct}}, encodeTx)

	require.Equal(t, 1, sink.count(), "a sink registered on both the stream and the account must receive exactly one copy")
}

func TestPublishTransactionReachesAccountOnlySubscriber(t *testing.T) {
	r := New()
	acct := ledger.AccountID{2}
	sink := &fakeSink{id: "acct-only"}
	r.SubscribeAccount(acct, sink)

	r.PublishTransaction(TransactionEvent{Accounts: []ledger.AccountID{acct}}, encodeTx)
	require.Equal(t, 1, sink.count())

	other := ledger.AccountID{3}
	r.PublishTransaction(TransactionEvent{Accounts: []ledger.AccountID{other}}, encodeTx)
	require.Equal(t, 1, sink.count(), "unrelated account traffic must not reach this subscriber")
}

func TestRemoveSinkClearsAllRegistrations(t *testing.T) {
	r := New()
	acct := ledger.AccountID{4}
	sink := &fakeSink{id: "x"}
	r.Subscribe(StreamLedger, sink)
	r.SubscribeAccount(acct, sink)

	r.RemoveSink(sink)

	r.PublishLedger(LedgerEvent{}, encodeLedger)
	r.PublishTransaction(TransactionEvent{Accounts: []ledger.AccountID{acct}}, encodeTx)
	require.Equal(t, 0, sink.count())
}

func TestPublishRawOnlyForwardsWhenDesignatedForwarder(t *testing.T) {
	r := New()
	sink := &fakeSink{id: "m"}
	r.Subscribe(StreamManifests, sink)

	r.PublishRaw(StreamManifests, []byte("m1"))
	require.Equal(t, 0, sink.count(), "a non-forwarder replica must not relay upstream manifests")

	r.SetForwarder(true)
	r.PublishRaw(StreamManifests, []byte("m2"))
	require.Equal(t, 1, sink.count())
}
