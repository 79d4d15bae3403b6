package control

import (
	"context"
	"sync/atomic"
)

// Guard serialises every access to the camera and the last acquired frame.
// It is not re-entrant; code that already holds it passes its Lease to the
// helpers it calls instead of acquiring again.
type Guard struct {
	sem chan struct{}
}

// NewGuard returns an unheld Guard.
func NewGuard() *Guard {
	return &Guard{sem: make(chan struct{}, 1)}
}

// Lease is proof that its holder owns the Guard.
type Lease struct {
	g        *Guard
	released atomic.Bool
}

// Acquire blocks until the Guard is free or ctx ends.
func (g *Guard) Acquire(ctx context.Context) (*Lease, error) {
	// an already-cancelled context must not win the race for a free guard
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case g.sem <- struct{}{}:
		return &Lease{g: g}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes the Guard only if it is free.
func (g *Guard) TryAcquire() (*Lease, bool) {
	select {
	case g.sem <- struct{}{}:
		return &Lease{g: g}, true
	default:
		return nil, false
	}
}

// Held reports whether l is a live lease on g.
func (g *Guard) Held(l *Lease) bool {
	return l != nil && l.g == g && !l.released.Load()
}

// Release returns the Guard. Releasing twice is a no-op.
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		<-l.g.sem
	}
}
