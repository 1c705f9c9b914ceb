package scheduler

import "sync"

// guard allows at most one active drain per ping type.
type guard struct {
	mu     sync.Mutex
	active map[string]bool
}

func newGuard() *guard { return &guard{active: make(map[string]bool)} }

func (g *guard) acquire(pingType string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[pingType] {
		return false
	}
	g.active[pingType] = true
	return true
}

func (g *guard) release(pingType string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, pingType)
}

func (g *guard) busy(pingType string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[pingType]
}
