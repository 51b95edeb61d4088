package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// Loader fetches a snapshot and returns the function that delivers it.
// The hub only invokes the returned function while the subscription is open.
type Loader func(ctx context.Context) (deliver func(), err error)

// Hub fans change notifications out to subscriptions. Each subscription
// owns one goroutine, so deliveries are ordered and a slow subscriber
// never blocks writers or other subscribers.
type Hub struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *observability.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

type subscription struct {
	id         uint64
	collection string
	docID      string
	load       Loader
	onError    func(error)
	signal     chan struct{}
	done       chan struct{}
	closed     atomic.Bool
	closeOnce  sync.Once
}

// NewHub creates a hub; Close stops every subscription
func NewHub(logger *observability.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		ctx:    ctx,
		cancel: cancel,
		logger: observability.OrNop(logger),
		subs:   make(map[uint64]*subscription),
	}
}

// Subscribe registers a subscription on collection (and docID when not
// empty). An initial snapshot is scheduled immediately.
func (h *Hub) Subscribe(collection, docID string, load Loader, onError func(error)) (Unsubscribe, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	sub := &subscription{
		id:         h.nextID,
		collection: collection,
		docID:      docID,
		load:       load,
		onError:    onError,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	h.subs[sub.id] = sub
	h.wg.Add(1)
	h.mu.Unlock()

	sub.signal <- struct{}{}
	go h.run(sub)

	return func() { h.remove(sub) }, nil
}

func (h *Hub) run(sub *subscription) {
	defer h.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case <-h.ctx.Done():
			return
		case <-sub.signal:
			if sub.closed.Load() {
				return
			}
			if err := h.deliver(sub); err != nil {
				h.fail(sub, err)
				return
			}
		}
	}
}

func (h *Hub) deliver(sub *subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithFields(map[string]interface{}{
				"collection": sub.collection,
				"panic":      r,
			}).Error("subscriber callback panicked")
		}
	}()

	fn, err := sub.load(h.ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && h.ctx.Err() != nil {
			return nil
		}
		return err
	}
	if sub.closed.Load() || fn == nil {
		return nil
	}
	fn()
	return nil
}

// Notify wakes every subscription watching collection. An empty id wakes
// document subscriptions too; an empty collection wakes everything.
func (h *Hub) Notify(collection, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if collection != "" && sub.collection != collection {
			continue
		}
		if sub.docID != "" && id != "" && sub.docID != id {
			continue
		}
		select {
		case sub.signal <- struct{}{}:
		default:
			// a snapshot is already pending and will observe this change
		}
	}
}

// Fail reports err to every open subscription and closes them
func (h *Hub) Fail(err error) {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.fail(sub, err)
	}
}

func (h *Hub) fail(sub *subscription, err error) {
	if sub.closed.Load() {
		return
	}
	h.remove(sub)
	if sub.onError == nil {
		return
	}
	defer observability.RecoverPanic(h.logger, "subscription error callback")
	sub.onError(err)
}

func (h *Hub) remove(sub *subscription) {
	sub.closeOnce.Do(func() {
		sub.closed.Store(true)
		close(sub.done)
		h.mu.Lock()
		delete(h.subs, sub.id)
		h.mu.Unlock()
	})
}

// Len returns the number of open subscriptions
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close cancels in-flight loads and waits for subscription goroutines
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	h.cancel()
	for _, sub := range subs {
		h.remove(sub)
	}
	h.wg.Wait()
}
