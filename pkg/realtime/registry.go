package realtime

import (
	"sync"
	"time"
)

// Registry tracks the open controllers of a process so the liveness
// watchdog can reach them
type Registry struct {
	mu          sync.Mutex
	controllers map[*Controller]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[*Controller]struct{})}
}

// Add registers c; the returned function removes it
func (r *Registry) Add(c *Controller) func() {
	r.mu.Lock()
	r.controllers[c] = struct{}{}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.controllers, c)
		r.mu.Unlock()
	}
}

// Len returns the number of registered controllers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// CheckLiveness runs CheckLiveness on every controller and returns how
// many resubscribed
func (r *Registry) CheckLiveness(now time.Time) int {
	r.mu.Lock()
	list := make([]*Controller, 0, len(r.controllers))
	for c := range r.controllers {
		list = append(list, c)
	}
	r.mu.Unlock()

	n := 0
	for _, c := range list {
		if c.CheckLiveness(now) {
			n++
		}
	}
	return n
}

// CloseAll closes every registered controller
func (r *Registry) CloseAll() {
	r.mu.Lock()
	list := make([]*Controller, 0, len(r.controllers))
	for c := range r.controllers {
		list = append(list, c)
	}
	r.controllers = make(map[*Controller]struct{})
	r.mu.Unlock()

	for _, c := range list {
		c.Close()
	}
}
