package orchestrator

import "sync"

// Gate is the process-wide admission controller bounding the number of
// in-flight deployments.
type Gate struct {
	mu       sync.Mutex
	max      int
	inflight map[int64]struct{}
}

func NewGate(max int) *Gate {
	return &Gate{max: max, inflight: make(map[int64]struct{})}
}

// Acquire attempts to admit the deployment. Returns false when the gate is
// at capacity; admitting the same id twice is a no-op that succeeds.
func (g *Gate) Acquire(deploymentID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[deploymentID]; ok {
		return true
	}
	if len(g.inflight) >= g.max {
		return false
	}
	g.inflight[deploymentID] = struct{}{}
	return true
}

// Release frees the deployment's slot. Idempotent.
func (g *Gate) Release(deploymentID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, deploymentID)
}

// InFlight reports the number of currently admitted deployments.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
