package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_Exclusive(t *testing.T) {
	g := NewGuard()
	l, err := g.Acquire(bg)
	require.NoError(t, err)
	assert.True(t, g.Held(l))

	_, ok := g.TryAcquire()
	assert.False(t, ok)

	l.Release()
	l.Release() // second release is a no-op
	assert.False(t, g.Held(l))

	l2, ok := g.TryAcquire()
	require.True(t, ok)
	assert.True(t, g.Held(l2))
	l2.Release()
}

func TestGuard_AcquireWaitsForRelease(t *testing.T) {
	g := NewGuard()
	l, err := g.Acquire(bg)
	require.NoError(t, err)

	got := make(chan *Lease)
	go func() {
		l2, err := g.Acquire(bg)
		if err != nil {
			close(got)
			return
		}
		got <- l2
	}()

	select {
	case <-got:
		t.Fatal("acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	l.Release()

	select {
	case l2 := <-got:
		require.NotNil(t, l2)
		l2.Release()
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired")
	}
}

func TestGuard_AcquireHonoursContext(t *testing.T) {
	g := NewGuard()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Acquire(cancelled)
	assert.ErrorIs(t, err, context.Canceled, "a free guard is not taken with a dead context")

	l, err := g.Acquire(bg)
	require.NoError(t, err)
	defer l.Release()

	ctx, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGuard_LeaseBelongsToItsGuard(t *testing.T) {
	a, b := NewGuard(), NewGuard()
	l, err := a.Acquire(bg)
	require.NoError(t, err)
	defer l.Release()
	assert.False(t, b.Held(l))
	assert.False(t, a.Held(nil))
}
