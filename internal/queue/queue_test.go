package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPushPopFIFO(t *testing.T) {
	q := New(4)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, 1))
	require.NoError(t, q.Push(ctx, 2))

	seq, err := q.Pop(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)

	seq, err = q.Pop(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, seq)
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	done := make(chan uint32, 1)
	go func() {
		seq, err := q.Pop(ctx)
		if err == nil {
			done <- uint32(seq)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(ctx, 7))

	select {
	case seq := <-done:
		require.EqualValues(t, 7, seq)
	case <-time.After(time.Second):
		t.Fatal("Pop never unblocked after Push")
	}
}

func TestPushBlocksAtCapacity(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, 1))

	pushed := make(chan struct{})
	go func() {
		require.NoError(t, q.Push(context.Background(), 2))
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("Push should have blocked at capacity")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := q.Pop(ctx)
	require.NoError(t, err)

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("Push never unblocked after capacity freed up")
	}
}

func TestWaitForUnblocksAtOrPastTarget(t *testing.T) {
	q := New(4)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, 5))

	waitDone := make(chan struct{})
	go func() {
		require.NoError(t, q.WaitFor(context.Background(), 10))
		close(waitDone)
	}()

	select {
	case <-waitDone:
		t.Fatal("WaitFor should not unblock before the target is reached")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push(ctx, 11))

	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("WaitFor never unblocked once seq passed the target")
	}
}

func TestPushRespectsContextCancellation(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Push(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Push(ctx, 2)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseUnblocksWaiters(t *testing.T) {
	q := New(1)
	errc := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errc:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close never unblocked Pop")
	}
}
