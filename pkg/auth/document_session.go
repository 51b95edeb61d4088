package auth

import (
	"fmt"
	"sync"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

// DocumentSession is a Provider that follows the signed-in user's profile
// document. Profile edits (a role change in particular) propagate to
// listeners, and deleting the profile signs the session out.
type DocumentSession struct {
	*Session

	store  docstore.Store
	logger *observability.Logger

	mu          sync.Mutex
	uid         string
	generation  uint64
	unsubscribe docstore.Unsubscribe
}

// NewDocumentSession creates a signed-out document session
func NewDocumentSession(store docstore.Store, logger *observability.Logger) *DocumentSession {
	return &DocumentSession{
		Session: NewSession(),
		store:   store,
		logger:  observability.OrNop(logger),
	}
}

// Start signs uid in. The session reports loading until the profile
// document is first delivered.
func (d *DocumentSession) Start(uid string) error {
	d.mu.Lock()
	d.stopLocked()
	d.generation++
	gen := d.generation
	d.uid = uid
	d.mu.Unlock()

	d.Session.SetLoading()

	unsubscribe, err := d.store.SubscribeDocument(docstore.NewRef(users.Collection, uid),
		func(doc *docstore.Document) { d.onProfile(gen, doc) },
		func(err error) { d.onError(gen, err) },
	)
	if err != nil {
		d.Session.SignOut()
		return fmt.Errorf("failed to follow user %s: %w", uid, err)
	}

	d.mu.Lock()
	if d.generation != gen {
		d.mu.Unlock()
		unsubscribe()
		return nil
	}
	d.unsubscribe = unsubscribe
	d.mu.Unlock()
	return nil
}

// SignOut stops following the profile and clears the user
func (d *DocumentSession) SignOut() {
	d.mu.Lock()
	d.stopLocked()
	d.generation++
	d.uid = ""
	d.mu.Unlock()
	d.Session.SignOut()
}

func (d *DocumentSession) stopLocked() {
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
}

func (d *DocumentSession) current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation == gen
}

func (d *DocumentSession) onProfile(gen uint64, doc *docstore.Document) {
	if !d.current(gen) {
		return
	}
	if doc == nil {
		d.logger.Info("User profile deleted; signing out")
		d.SignOut()
		return
	}
	d.Session.SignIn(users.FromDocument(doc))
}

// onError keeps the last known profile; the session stays signed in
func (d *DocumentSession) onError(gen uint64, err error) {
	if !d.current(gen) {
		return
	}
	d.logger.WithError(err).Warn("User profile subscription failed")
	user, _ := d.Session.Current()
	if user == nil {
		d.Session.SignOut()
		return
	}
	d.Session.SignIn(*user)
}
