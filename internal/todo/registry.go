package todo

import (
	"context"
	"log"
	"sync"
	"time"
)

type WorkspaceFactory func(id string) *Workspace

// Registry maps client ids to their workspaces and closes workspaces left idle.
type Registry struct {
	factory WorkspaceFactory
	idle    time.Duration
	now     func() time.Time
	logger  *log.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func NewRegistry(factory WorkspaceFactory, idle time.Duration, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Registry{
		factory:    factory,
		idle:       idle,
		now:        time.Now,
		logger:     logger,
		workspaces: make(map[string]*Workspace),
	}
}

// Get returns the workspace of a client, creating it on first use or when the previous
// one was closed. The workspace is touched before the lock is released so a concurrent
// Sweep cannot close it.
func (r *Registry) Get(id string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workspaces[id]
	if !ok || w.Closed() {
		w = r.factory(id)
		r.workspaces[id] = w
	}
	w.Touch()
	return w
}

func (r *Registry) Lookup(id string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workspaces[id]
	return w, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// Sweep closes workspaces that have no watchers and have not been used within the idle
// timeout. It returns the number closed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var stale []*Workspace
	for id, w := range r.workspaces {
		if w.Watching() == 0 && w.LastSeen().Before(cutoff) {
			stale = append(stale, w)
			delete(r.workspaces, id)
		}
	}
	r.mu.Unlock()

	for _, w := range stale {
		w.Close()
	}
	if len(stale) > 0 {
		r.logger.Printf("[todo] closed %d idle workspaces", len(stale))
	}
	return len(stale)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) Close() {
	r.mu.Lock()
	all := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, w := range all {
		w.Close()
	}
}
