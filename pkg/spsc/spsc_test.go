package spsc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryPushUntilFull(t *testing.T) {
	q := New[int](3)

	assert.True(t, q.TryPush(1))
	assert.True(t, q.TryPush(2))
	assert.True(t, q.TryPush(3))
	assert.False(t, q.TryPush(4), "queue at capacity should reject pushes")
	assert.Equal(t, 3, q.Len())
}

func TestPopEmpty(t *testing.T) {
	q := New[string](2)

	_, ok := q.Pop()
	assert.False(t, ok, "pop on empty queue should report empty")
}

func TestFIFOOrdering(t *testing.T) {
	q := New[int](4)

	for i := 1; i <= 4; i++ {
		require.True(t, q.TryPush(i))
	}
	for i := 1; i <= 4; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v, "items should come out in push order")
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestWraparound(t *testing.T) {
	q := New[int](2)

	// Cycle through the ring several times so both indices wrap the
	// [0, 2*cap) range.
	for round := 0; round < 10; round++ {
		require.True(t, q.TryPush(round*2))
		require.True(t, q.TryPush(round*2+1))
		require.False(t, q.TryPush(-1))

		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, round*2, v)
		v, ok = q.Pop()
		require.True(t, ok)
		assert.Equal(t, round*2+1, v)
	}
}

func TestPushBlocksUntilSpace(t *testing.T) {
	q := New[int](1)
	require.True(t, q.TryPush(1))

	done := make(chan struct{})
	go func() {
		q.Push(2) // spins until the consumer makes room
		close(done)
	}()

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	<-done
	v, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestConcurrentTransfer(t *testing.T) {
	const total = 100000
	q := New[uint64](128)

	go func() {
		for i := uint64(0); i < total; i++ {
			q.Push(i)
		}
	}()

	var next uint64
	for next < total {
		v, ok := q.Pop()
		if !ok {
			continue
		}
		require.Equal(t, next, v, "FIFO order must hold across goroutines")
		next++
	}
}

func TestPopMovesItem(t *testing.T) {
	q := New[*int](2)
	x := 7
	require.True(t, q.TryPush(&x))

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, &x, v)

	// The vacated slot must not retain the pointer.
	assert.Nil(t, q.buffer[0])
}
