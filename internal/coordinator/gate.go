package coordinator

import "sync"

// Gate blocks callers while paused. Closing the gate releases every waiter
// permanently.
type Gate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
	closed bool
}

func NewGate() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Pause makes subsequent Wait calls block. No-op once closed.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.paused = true
	}
}

// Resume releases waiters.
func (g *Gate) Resume() {
	g.mu.Lock()
	g.paused = false
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Close releases waiters for good.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.paused = false
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Wait blocks while the gate is paused. It returns false if the gate is
// closed.
func (g *Gate) Wait() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.paused && !g.closed {
		g.cond.Wait()
	}
	return !g.closed
}

func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

func (g *Gate) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
