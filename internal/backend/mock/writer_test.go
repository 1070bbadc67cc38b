package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrplf/xrplreport/internal/backend"
	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/xerrors"
)

func mockKey(b byte) ledger.Key {
	var k ledger.Key
	k[31] = b
	return k
}

func mockHash(b byte) ledger.Hash {
	var h ledger.Hash
	h[31] = b
	return h
}

// fixedPager hands back one fixed page of live objects regardless of
// cursor, standing in for the reporting façade's live-state walk that
// DoOnlineDelete drives itself from in production.
type fixedPager struct {
	objs []ledger.Object
}

func (f *fixedPager) FetchLedgerPage(ctx context.Context, cursor *ledger.Key, seq ledger.Seq, limit int) ([]ledger.Object, *ledger.Key, bool, error) {
	if cursor != nil {
		return nil, nil, false, nil
	}
	return f.objs, nil, false, nil
}

var _ backend.PageReader = (*fixedPager)(nil)

func writeTestLedger(t *testing.T, b *Backend, seq ledger.Seq, obj *ledger.Object, succs []ledger.Successor, tx *ledger.Transaction, acctRow *ledger.AccountTx) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.StartWrites(ctx))
	require.NoError(t, b.WriteLedger(ctx, ledger.Header{Seq: seq, Hash: mockHash(byte(seq))}))
	if obj != nil {
		require.NoError(t, b.WriteLedgerObject(ctx, *obj))
	}
	for _, s := range succs {
		require.NoError(t, b.WriteSuccessor(ctx, s))
	}
	if tx != nil {
		require.NoError(t, b.WriteTransaction(ctx, *tx))
	}
	if acctRow != nil {
		require.NoError(t, b.WriteAccountTransactions(ctx, []ledger.AccountTx{*acctRow}))
	}
	applied, err := b.FinishWrites(ctx, seq)
	require.NoError(t, err)
	require.True(t, applied)
}

// TestDoOnlineDeletePreservesSuccessorTotalityForUntouchedKeys covers a key
// whose successor pointer was last written before keepMin and never
// touched again: per successorDiffs, a modified-but-not-created-or-deleted
// key produces no successor write, so the only row recording its chain
// link predates keepMin. Purging it without first splicing a fresh chain
// at keepMin would make FetchSuccessor(FIRST_KEY, keepMin) report
// NotFound even though the object is still live.
func TestDoOnlineDeletePreservesSuccessorTotalityForUntouchedKeys(t *testing.T) {
	ctx := context.Background()
	b := New()

	keyA := mockKey(1)
	keyB := mockKey(2)

	// Ledger 1 creates A: FIRST_KEY -> A -> LAST_KEY. A's chain pointer is
	// never rewritten again.
	writeTestLedger(t, b, 1,
		&ledger.Object{Key: keyA, Seq: 1, Blob: []byte("a")},
		[]ledger.Successor{
			{Key: ledger.FirstKey, Seq: 1, Next: keyA},
			{Key: keyA, Seq: 1, Next: ledger.LastKey},
		},
		&ledger.Transaction{Hash: mockHash(10), Seq: 1, TxBlob: []byte("tx1")},
		&ledger.AccountTx{Account: ledger.AccountID{0x01}, Seq: 1, Index: 0, Tx: mockHash(10)},
	)

	// Ledger 2 creates B, splicing it in after A: only A's old successor
	// link (A -> LAST_KEY) is rewritten to A -> B. FIRST_KEY -> A is left
	// untouched, exactly the case successorDiffs documents.
	writeTestLedger(t, b, 2,
		&ledger.Object{Key: keyB, Seq: 2, Blob: []byte("b")},
		[]ledger.Successor{
			{Key: keyA, Seq: 2, Next: keyB},
			{Key: keyB, Seq: 2, Next: ledger.LastKey},
		},
		nil, nil,
	)

	pager := &fixedPager{objs: []ledger.Object{
		{Key: keyA, Seq: 2, Blob: []byte("a")},
		{Key: keyB, Seq: 2, Blob: []byte("b")},
	}}

	require.NoError(t, b.DoOnlineDelete(ctx, pager, 2))

	next, err := b.FetchSuccessor(ctx, ledger.FirstKey, 2)
	require.NoError(t, err, "FIRST_KEY must still resolve after online delete even though A's only prior successor row predates keepMin")
	require.Equal(t, keyA, *next)

	next, err = b.FetchSuccessor(ctx, keyA, 2)
	require.NoError(t, err)
	require.Equal(t, keyB, *next)

	next, err = b.FetchSuccessor(ctx, keyB, 2)
	require.NoError(t, err)
	require.Equal(t, ledger.LastKey, *next)

	blobA, err := b.FetchLedgerObject(ctx, keyA, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), []byte(blobA))

	blobB, err := b.FetchLedgerObject(ctx, keyB, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), []byte(blobB))
}

// TestDoOnlineDeletePurgesAgedTablesAcrossTheBoard exercises the full set
// of tables the retention step must age out: headers, transactions, and
// account-tx rows older than keep_min must all report NotFound/empty
// afterward, not just the objects/successors tables.
func TestDoOnlineDeletePurgesAgedTablesAcrossTheBoard(t *testing.T) {
	ctx := context.Background()
	b := New()

	keyA := mockKey(1)
	keyB := mockKey(2)

	writeTestLedger(t, b, 1,
		&ledger.Object{Key: keyA, Seq: 1, Blob: []byte("a")},
		[]ledger.Successor{
			{Key: ledger.FirstKey, Seq: 1, Next: keyA},
			{Key: keyA, Seq: 1, Next: ledger.LastKey},
		},
		&ledger.Transaction{Hash: mockHash(10), Seq: 1, TxBlob: []byte("tx1")},
		&ledger.AccountTx{Account: ledger.AccountID{0x01}, Seq: 1, Index: 0, Tx: mockHash(10)},
	)
	writeTestLedger(t, b, 2,
		&ledger.Object{Key: keyB, Seq: 2, Blob: []byte("b")},
		[]ledger.Successor{
			{Key: keyA, Seq: 2, Next: keyB},
			{Key: keyB, Seq: 2, Next: ledger.LastKey},
		},
		&ledger.Transaction{Hash: mockHash(11), Seq: 2, TxBlob: []byte("tx2")},
		&ledger.AccountTx{Account: ledger.AccountID{0x01}, Seq: 2, Index: 0, Tx: mockHash(11)},
	)

	pager := &fixedPager{objs: []ledger.Object{
		{Key: keyA, Seq: 2, Blob: []byte("a")},
		{Key: keyB, Seq: 2, Blob: []byte("b")},
	}}
	require.NoError(t, b.DoOnlineDelete(ctx, pager, 2))

	_, err := b.FetchLedgerBySeq(ctx, 1)
	require.Equal(t, xerrors.NotFound, err, "ledger headers older than keep_min must be purged")

	_, err = b.FetchLedgerByHash(ctx, mockHash(1))
	require.Equal(t, xerrors.NotFound, err)

	hdr, err := b.FetchLedgerBySeq(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, ledger.Seq(2), hdr.Seq)

	_, err = b.FetchTransaction(ctx, mockHash(10))
	require.Equal(t, xerrors.NotFound, err, "transactions older than keep_min must be purged")

	tx2, err := b.FetchTransaction(ctx, mockHash(11))
	require.NoError(t, err)
	require.Equal(t, ledger.Seq(2), tx2.Seq)

	rows, _, err := b.FetchAccountTransactions(ctx, ledger.AccountID{0x01}, 10, true, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1, "account_tx rows older than keep_min must be purged")
	require.Equal(t, ledger.Seq(2), rows[0].Seq)
}
