package indexer

import "sync"

// Registry tracks which repositories have an indexing job in flight. It is
// an explicit concurrent map with compare-and-set semantics, not an ambient
// global: the orchestrator owns the only instance.
type Registry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]struct{})}
}

// TryStart atomically claims repoID. It returns false when a job is
// already running, in which case the caller must reject without queueing.
func (r *Registry) TryStart(repoID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[repoID]; busy {
		return false
	}
	r.active[repoID] = struct{}{}
	return true
}

// Finish releases repoID. Only the goroutine that claimed it may call this.
func (r *Registry) Finish(repoID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, repoID)
}

// IsIndexing reports whether repoID currently has a job in flight.
func (r *Registry) IsIndexing(repoID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.active[repoID]
	return busy
}
