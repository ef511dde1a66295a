package rrdcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchQueue_FIFO(t *testing.T) {
	q := newDispatchQueue()
	q.enqueue("a", Back)
	q.enqueue("b", Back)
	q.enqueue("c", Back)

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.dequeueBlocking()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestDispatchQueue_FrontInsertPriority(t *testing.T) {
	q := newDispatchQueue()
	q.enqueue("b", Back)
	q.enqueue("a", Front)

	got, ok := q.dequeueBlocking()
	require.True(t, ok)
	assert.Equal(t, "a", got)
}

func TestDispatchQueue_Promote(t *testing.T) {
	q := newDispatchQueue()
	q.enqueue("a", Back)
	q.enqueue("b", Back)
	q.enqueue("c", Back)

	moved := q.promote("c")
	assert.True(t, moved)

	got, _ := q.dequeueBlocking()
	assert.Equal(t, "c", got)

	t.Run("idempotent at head", func(t *testing.T) {
		q2 := newDispatchQueue()
		q2.enqueue("x", Back)
		moved := q2.promote("x")
		assert.False(t, moved)
	})

	t.Run("absent filename is a no-op", func(t *testing.T) {
		q3 := newDispatchQueue()
		q3.enqueue("x", Back)
		moved := q3.promote("missing")
		assert.False(t, moved)
	})
}

func TestDispatchQueue_BlocksUntilWork(t *testing.T) {
	q := newDispatchQueue()
	done := make(chan string, 1)

	go func() {
		fn, ok := q.dequeueBlocking()
		if ok {
			done <- fn
		}
	}()

	select {
	case <-done:
		t.Fatal("dequeue returned before anything was enqueued")
	case <-time.After(20 * time.Millisecond):
	}

	q.enqueue("late", Back)

	select {
	case got := <-done:
		assert.Equal(t, "late", got)
	case <-time.After(time.Second):
		t.Fatal("dequeue never unblocked after enqueue")
	}
}

func TestDispatchQueue_ShutdownDrainsThenSentinel(t *testing.T) {
	q := newDispatchQueue()
	q.enqueue("a", Back)
	q.requestShutdown()

	got, ok := q.dequeueBlocking()
	require.True(t, ok)
	assert.Equal(t, "a", got)

	_, ok = q.dequeueBlocking()
	assert.False(t, ok, "empty queue + shutdown must return the sentinel")
}

func TestDispatchQueue_ShutdownWakesBlockedWaiter(t *testing.T) {
	q := newDispatchQueue()
	done := make(chan bool, 1)

	go func() {
		_, ok := q.dequeueBlocking()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.requestShutdown()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("shutdown never woke the blocked dequeue")
	}
}
