package settings

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
)

// stream labels settings pushes in sync metrics
const stream = "settings"

// View is what the controller publishes
type View struct {
	Settings AppSettings
	// Loading is true until the first snapshot arrives
	Loading bool
	// Err is the last subscription error; the last good Settings are kept
	Err error
}

// Controller keeps a live copy of the settings singleton. It is the rule
// source of the permission resolver: until the first snapshot, and while
// the document does not exist, it reports no rules so the resolver falls
// back to its defaults.
type Controller struct {
	store   docstore.Store
	logger  *observability.Logger
	metrics *observability.Metrics

	mu          sync.Mutex
	view        View
	generation  uint64
	unsubscribe docstore.Unsubscribe
	nextID      int
	listeners   map[int]func(View)
	ready       chan struct{}
	readyOnce   sync.Once
}

// NewController creates a stopped controller
func NewController(store docstore.Store, logger *observability.Logger, metrics *observability.Metrics) *Controller {
	return &Controller{
		store:     store,
		logger:    observability.OrNop(logger),
		metrics:   metrics,
		view:      View{Settings: Empty(), Loading: true},
		listeners: make(map[int]func(View)),
		ready:     make(chan struct{}),
	}
}

// Start subscribes to the settings document. Starting a running
// controller replaces its subscription.
func (c *Controller) Start() error {
	c.mu.Lock()
	c.stopLocked()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	unsubscribe, err := c.store.SubscribeDocument(Ref,
		func(doc *docstore.Document) { c.onSnapshot(gen, doc) },
		func(err error) { c.onError(gen, err) },
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to settings: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		unsubscribe()
		return nil
	}
	c.unsubscribe = unsubscribe
	return nil
}

// Stop releases the subscription. The last view is kept.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.generation++
}

func (c *Controller) stopLocked() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// View returns the current view
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Rules implements rbac.RuleSource
func (c *Controller) Rules() []rbac.PermissionRule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.Settings.Rules
}

// Ready is closed once the first snapshot or error has been received
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// WaitReady blocks until Ready or ctx is done
func (c *Controller) WaitReady(ctx context.Context) error {
	select {
	case <-c.Ready():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("settings not loaded: %w", ctx.Err())
	}
}

// OnChange registers fn for every published view and calls it once with
// the current one. The returned function removes the listener.
func (c *Controller) OnChange(fn func(View)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	view := c.view
	c.mu.Unlock()

	fn(view)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) onSnapshot(gen uint64, doc *docstore.Document) {
	var data map[string]interface{}
	if doc != nil {
		data = doc.Data
	}
	s, malformed := FromData(data)
	if malformed > 0 {
		c.metrics.Malformed(Collection, malformed)
		c.logger.WithField("malformed", malformed).Warn("Ignoring malformed settings entries")
	}

	c.publish(gen, func(v *View) {
		*v = View{Settings: s}
	})
	c.metrics.SyncPush(stream, -1)
}

func (c *Controller) onError(gen uint64, err error) {
	c.logger.WithError(err).Error("Settings sync failed")
	c.metrics.SyncError(stream)
	c.publish(gen, func(v *View) {
		v.Loading = false
		v.Err = err
	})
}

// publish applies update when gen is still current and notifies listeners
// in registration order outside the lock
func (c *Controller) publish(gen uint64, update func(*View)) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	update(&c.view)
	view := c.view
	c.readyOnce.Do(func() { close(c.ready) })

	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(View), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(view)
	}
}
