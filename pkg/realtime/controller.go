package realtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/tasktrax/pkg/auth"
	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
	"github.com/platinummonkey/tasktrax/pkg/settings"
	"github.com/platinummonkey/tasktrax/pkg/tasks"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

// stream labels task pushes in sync metrics
const stream = "tasks"

// ErrSyncFailed wraps errors reported by the task subscription
var ErrSyncFailed = errors.New("task sync failed")

// State is the lifecycle state of a Controller
type State string

const (
	StateIdle        State = "idle"
	StateSubscribing State = "subscribing"
	StateLive        State = "live"
	StateError       State = "error"
	StateTornDown    State = "torn_down"
)

// View is what the controller publishes. Tasks is shared between
// listeners and must not be modified.
type View struct {
	Tasks   []tasks.Task
	Loading bool
	State   State
	// Err is set in StateError; Tasks then holds the last good push
	Err error
}

// SettingsSource publishes the settings singleton; *settings.Controller
// implements it.
type SettingsSource interface {
	View() settings.View
	OnChange(fn func(settings.View)) func()
}

// Options configures a Controller
type Options struct {
	Store    docstore.Store
	Auth     auth.Provider
	Resolver *rbac.Resolver
	Settings SettingsSource

	// LivenessTimeout is how long a subscription may stay silent before
	// CheckLiveness replaces it. Zero disables the check.
	LivenessTimeout time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// lifecycle identifies one subscription lifecycle; any change starts a new one
type lifecycle struct {
	userID      string
	authLoading bool
	canView     bool
}

// Controller follows the auth provider and the permission rules and keeps
// one live, filtered subscription to the task collection for the current
// user.
type Controller struct {
	store    docstore.Store
	auth     auth.Provider
	resolver *rbac.Resolver
	settings SettingsSource
	timeout  time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	// publishMu serializes delivery to listeners; it is taken before mu
	publishMu sync.Mutex
	published uint64

	mu          sync.Mutex
	seq         uint64
	state       State
	view        View
	user        *users.User
	current     lifecycle
	reconciled  bool
	started     bool
	closed      bool
	generation  uint64
	unsubscribe docstore.Unsubscribe
	all         []tasks.Task
	since       time.Time
	nextID      int
	listeners   map[int]func(View)

	stopAuth     func()
	stopSettings func()
	removers     []func()
}

// NewController creates an idle controller; Start begins following auth
func NewController(opts Options) *Controller {
	return &Controller{
		store:     opts.Store,
		auth:      opts.Auth,
		resolver:  opts.Resolver,
		settings:  opts.Settings,
		timeout:   opts.LivenessTimeout,
		logger:    observability.OrNop(opts.Logger).WithField("component", "realtime"),
		metrics:   opts.Metrics,
		now:       time.Now,
		state:     StateIdle,
		view:      emptyView(StateIdle),
		listeners: make(map[int]func(View)),
	}
}

func emptyView(state State) View {
	return View{Tasks: []tasks.Task{}, Loading: true, State: state}
}

// Start registers with the auth provider and the settings source. Both
// report their current state immediately, so the first lifecycle is
// established before Start returns.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	stopAuth := c.auth.OnAuthStateChanged(func(*users.User, bool) { c.reconcile() })
	var stopSettings func()
	if c.settings != nil {
		stopSettings = c.settings.OnChange(func(settings.View) { c.reconcile() })
	}

	c.mu.Lock()
	closed := c.closed
	c.stopAuth, c.stopSettings = stopAuth, stopSettings
	c.mu.Unlock()
	if closed {
		c.release(stopAuth, stopSettings)
	}
}

// Close ends the lifecycle for good. The subscription and every listener
// registration are released; calling Close again is a no-op.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.teardownLocked()
	c.user = nil
	c.setStateLocked(StateTornDown)
	c.view = emptyView(StateTornDown)
	view, fns, seq := c.snapshotLocked()
	stopAuth, stopSettings := c.stopAuth, c.stopSettings
	removers := c.removers
	c.stopAuth, c.stopSettings, c.removers = nil, nil, nil
	c.mu.Unlock()

	c.release(stopAuth, stopSettings)
	for _, remove := range removers {
		remove()
	}
	c.publish(seq, view, fns)
	c.logger.Debug("Realtime controller closed")
}

func (c *Controller) release(fns ...func()) {
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

// View returns the current task view
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// State returns the lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// User returns the user the current lifecycle belongs to, or nil
func (c *Controller) User() *users.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// Can resolves action for the current user; signed-out users can do nothing
func (c *Controller) Can(action rbac.Action) bool {
	user, _ := c.auth.Current()
	if user == nil {
		return false
	}
	return c.resolver.Can(user.Role, action)
}

// OnChange registers fn for every published task view and calls it once
// with the current one. The returned function removes the listener.
// Listeners are called one at a time and must not call OnChange, Close or
// change the auth state from inside the callback.
func (c *Controller) OnChange(fn func(View)) func() {
	c.publishMu.Lock()
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	view := c.view
	c.mu.Unlock()

	fn(view)
	c.publishMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// OnSettings forwards settings views to fn until the returned function is
// called or the controller is closed
func (c *Controller) OnSettings(fn func(settings.View)) func() {
	if c.settings == nil {
		fn(settings.View{Settings: settings.Empty(), Loading: true})
		return func() {}
	}
	remove := c.settings.OnChange(fn)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		remove()
		return func() {}
	}
	c.removers = append(c.removers, remove)
	c.mu.Unlock()
	return remove
}

// CheckLiveness replaces a subscription that has been silent for longer
// than the liveness timeout. It reports whether it did.
func (c *Controller) CheckLiveness(now time.Time) bool {
	c.mu.Lock()
	if c.timeout <= 0 || c.closed {
		c.mu.Unlock()
		return false
	}
	if c.state != StateLive && c.state != StateSubscribing {
		c.mu.Unlock()
		return false
	}
	silent := now.Sub(c.since)
	if silent < c.timeout {
		c.mu.Unlock()
		return false
	}

	c.generation++
	gen := c.generation
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.since = now
	c.setStateLocked(StateSubscribing)
	c.view.State = StateSubscribing
	view, fns, seq := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.SyncResubscribe("stale")
	c.logger.WithField("silent", silent.String()).Warn("Task subscription went silent; resubscribing")
	c.publish(seq, view, fns)
	c.subscribe(gen)
	return true
}

// reconcile compares the auth and permission state with the current
// lifecycle. A new lifecycle tears the old subscription down first.
func (c *Controller) reconcile() {
	user, authLoading := c.auth.Current()
	next := lifecycle{authLoading: authLoading}
	if user != nil {
		next.userID = user.ID
		next.canView = c.resolver.Can(user.Role, rbac.ActionViewTasks)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if c.reconciled && next == c.current {
		// same lifecycle; a role or rule change still needs a new filter
		// pass, including over the last good push kept in StateError
		c.user = user
		if user == nil || c.all == nil || (c.state != StateLive && c.state != StateError) {
			c.mu.Unlock()
			return
		}
		c.view.Tasks = tasks.Visible(c.all, *user)
		view, fns, seq := c.snapshotLocked()
		c.mu.Unlock()
		c.publish(seq, view, fns)
		return
	}

	wasActive := c.teardownLocked()
	c.reconciled = true
	c.current = next
	c.user = user

	if user == nil || authLoading || !next.canView {
		state := StateIdle
		if wasActive || (user != nil && !authLoading) {
			state = StateTornDown
		}
		c.setStateLocked(state)
		c.view = emptyView(state)
		view, fns, seq := c.snapshotLocked()
		c.mu.Unlock()

		if wasActive {
			c.logger.WithFields(map[string]interface{}{
				"user_id":  next.userID,
				"can_view": next.canView,
			}).Info("Task subscription torn down")
		}
		c.publish(seq, view, fns)
		return
	}

	gen := c.generation
	c.since = c.now()
	c.setStateLocked(StateSubscribing)
	c.view = emptyView(StateSubscribing)
	view, fns, seq := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(seq, view, fns)
	c.subscribe(gen)
}

// teardownLocked releases the subscription and forgets pushed data. It
// reports whether a lifecycle was active.
func (c *Controller) teardownLocked() bool {
	c.generation++
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.all = nil
	switch c.state {
	case StateSubscribing, StateLive, StateError:
		return true
	}
	return false
}

func (c *Controller) subscribe(gen uint64) {
	unsubscribe, err := c.store.SubscribeCollection(tasks.Collection,
		func(docs []*docstore.Document) { c.onSnapshot(gen, docs) },
		func(err error) { c.onError(gen, err) },
	)

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.onError(gen, fmt.Errorf("failed to subscribe to tasks: %w", err))
		return
	}
	c.unsubscribe = unsubscribe
	userID := c.current.userID
	c.mu.Unlock()
	c.logger.WithField("user_id", userID).Debug("Subscribed to tasks")
}

func (c *Controller) onSnapshot(gen uint64, docs []*docstore.Document) {
	list, malformed := tasks.NormalizeAll(docs)

	c.mu.Lock()
	if c.generation != gen || c.user == nil {
		c.mu.Unlock()
		return
	}
	user := *c.user
	if !c.resolver.Can(user.Role, rbac.ActionViewTasks) {
		// rules changed ahead of the settings notification
		c.mu.Unlock()
		c.reconcile()
		return
	}

	visible := tasks.Visible(list, user)
	c.all = list
	c.since = c.now()
	c.setStateLocked(StateLive)
	c.view = View{Tasks: visible, State: StateLive}
	c.metrics.Malformed(tasks.Collection, malformed)
	c.metrics.SyncPush(stream, len(visible))
	view, fns, seq := c.snapshotLocked()
	c.mu.Unlock()

	if malformed > 0 {
		c.logger.WithField("malformed", malformed).Warn("Skipping malformed task data")
	}
	c.publish(seq, view, fns)
}

// onError keeps the last good tasks and does not retry; a new lifecycle
// or CheckLiveness is needed to subscribe again
func (c *Controller) onError(gen uint64, err error) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.generation++
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.setStateLocked(StateError)
	c.view.State = StateError
	c.view.Loading = false
	c.view.Err = fmt.Errorf("%w: %w", ErrSyncFailed, err)
	c.metrics.SyncError(stream)
	view, fns, seq := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.WithError(err).Error("Task sync failed")
	c.publish(seq, view, fns)
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.metrics.SyncState(string(s))
}

// snapshotLocked returns the view, the listeners in registration order and
// the sequence number publish orders them by
func (c *Controller) snapshotLocked() (View, []func(View), uint64) {
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(View), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.seq++
	return c.view, fns, c.seq
}

// publish delivers view unless a newer one has already gone out, so a push
// that lost the race with a teardown is dropped instead of arriving last
func (c *Controller) publish(seq uint64, view View, fns []func(View)) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	if seq <= c.published {
		return
	}
	c.published = seq
	for _, fn := range fns {
		fn(view)
	}
}
