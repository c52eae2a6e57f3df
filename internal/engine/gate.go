package engine

import "context"

// Gate is a counting admission semaphore shared across all lanes. It
// bounds simultaneous outstanding provider calls regardless of how many
// workers are draining batches.
type Gate struct {
	slots chan struct{}
}

// NewGate creates a gate admitting at most n concurrent holders.
func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or the context is done.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired with Acquire.
func (g *Gate) Release() {
	<-g.slots
}

// InUse returns the number of currently held slots.
func (g *Gate) InUse() int {
	return len(g.slots)
}
