package logstream

import "sync"

// Registry maps active deployment ids to their log buffers. A buffer exists
// only while its deployment runs; streaming endpoints fall back to the
// database when Lookup misses.
type Registry struct {
	mu      sync.RWMutex
	buffers map[int64]*Buffer
}

func NewRegistry() *Registry {
	return &Registry{buffers: make(map[int64]*Buffer)}
}

// Open returns the buffer for the deployment, creating it if absent.
func (r *Registry) Open(deploymentID int64) *Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[deploymentID]
	if !ok {
		b = NewBuffer()
		r.buffers[deploymentID] = b
	}
	return b
}

// Lookup returns the buffer for the deployment if one is live.
func (r *Registry) Lookup(deploymentID int64) (*Buffer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buffers[deploymentID]
	return b, ok
}

// Remove closes and forgets the deployment's buffer.
func (r *Registry) Remove(deploymentID int64) {
	r.mu.Lock()
	b, ok := r.buffers[deploymentID]
	delete(r.buffers, deploymentID)
	r.mu.Unlock()
	if ok {
		b.Close()
	}
}
