package users

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
)

// LoginsCollection holds one document per successful sign-in
const LoginsCollection = "logins"

var (
	// ErrUserNotFound is returned when no profile exists for an id
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailRequired is returned by Add without an email
	ErrEmailRequired = errors.New("email is required")
)

// DirectoryConfig configures the user cache
type DirectoryConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Directory reads and administers user profiles. Lookups are cached and
// concurrent misses for the same id share one store read.
type Directory struct {
	store  docstore.Store
	cache  *expirable.LRU[string, User]
	group  singleflight.Group
	logger *observability.Logger
	now    func() time.Time
}

// NewDirectory creates a user directory
func NewDirectory(store docstore.Store, cfg DirectoryConfig, logger *observability.Logger) *Directory {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	return &Directory{
		store:  store,
		cache:  expirable.NewLRU[string, User](cfg.CacheSize, nil, cfg.CacheTTL),
		logger: observability.OrNop(logger),
		now:    time.Now,
	}
}

func ref(id string) docstore.Ref {
	return docstore.NewRef(Collection, id)
}

// Get returns the user with id
func (d *Directory) Get(ctx context.Context, id string) (*User, error) {
	if u, ok := d.cache.Get(id); ok {
		return &u, nil
	}

	v, err, _ := d.group.Do(id, func() (interface{}, error) {
		doc, err := d.store.Get(ctx, ref(id))
		if err != nil {
			if docstore.IsNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
			}
			return nil, fmt.Errorf("failed to load user %s: %w", id, err)
		}
		u := FromDocument(doc)
		d.cache.Add(id, u)
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	u := v.(User)
	return &u, nil
}

// List returns every user ordered by name
func (d *Directory) List(ctx context.Context) ([]User, error) {
	docs, err := d.store.List(ctx, Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]User, 0, len(docs))
	for _, doc := range docs {
		out = append(out, FromDocument(doc))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// NewUser is the input of Add
type NewUser struct {
	ID         string    `json:"id,omitempty"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       rbac.Role `json:"role,omitempty"`
	Department string    `json:"department,omitempty"`
	AvatarURL  string    `json:"avatarUrl,omitempty"`
}

// avatarURLFormat generates a stable avatar from the user's name
const avatarURLFormat = "https://api.dicebear.com/7.x/avataaars/svg?seed=%s"

// Add creates a user profile. The id defaults to a random UUID (an identity
// provider subject can be passed instead), the role to Member, the
// department to General and the avatar to one generated from the name.
func (d *Directory) Add(ctx context.Context, in NewUser) (*User, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	role := rbac.RoleMember
	if in.Role != "" {
		parsed, ok := rbac.ParseRole(string(in.Role))
		if !ok {
			return nil, fmt.Errorf("%w: %q", rbac.ErrUnknownRole, in.Role)
		}
		role = parsed
	}

	department := strings.TrimSpace(in.Department)
	if department == "" {
		department = DefaultDepartment
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	name := strings.TrimSpace(in.Name)
	avatar := strings.TrimSpace(in.AvatarURL)
	if avatar == "" {
		seed := name
		if seed == "" {
			seed = "user"
		}
		avatar = fmt.Sprintf(avatarURLFormat, url.QueryEscape(seed))
	}

	data := map[string]interface{}{
		"name":       name,
		"email":      email,
		"role":       string(role),
		"department": department,
		"avatarUrl":  avatar,
		"createdAt":  d.now().UTC().Format(time.RFC3339),
	}
	doc, err := docstore.Create(ctx, d.store, ref(id), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	u := FromDocument(doc)
	d.cache.Remove(id)
	d.logger.WithFields(map[string]interface{}{"user_id": id, "role": string(role)}).Info("User created")
	return &u, nil
}

// UpdateRole changes a user's role and returns the previous one
func (d *Directory) UpdateRole(ctx context.Context, id string, role rbac.Role) (rbac.Role, error) {
	parsed, ok := rbac.ParseRole(string(role))
	if !ok {
		return "", fmt.Errorf("%w: %q", rbac.ErrUnknownRole, role)
	}
	before, err := d.updateField(ctx, id, "role", string(parsed))
	return rbac.Role(before), err
}

// UpdateDepartment changes a user's department and returns the previous one
func (d *Directory) UpdateDepartment(ctx context.Context, id, department string) (string, error) {
	department = strings.TrimSpace(department)
	if department == "" {
		department = DefaultDepartment
	}
	return d.updateField(ctx, id, "department", department)
}

func (d *Directory) updateField(ctx context.Context, id, field, value string) (string, error) {
	var before string
	_, err := d.store.Mutate(ctx, ref(id), func(current map[string]interface{}, exists bool) (map[string]interface{}, error) {
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		before, _ = current[field].(string)
		current[field] = value
		return current, nil
	})
	d.cache.Remove(id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", err
		}
		return "", fmt.Errorf("failed to update user %s: %w", id, err)
	}
	return before, nil
}

// Delete removes a user profile. Sessions following the profile sign out.
func (d *Directory) Delete(ctx context.Context, id string) error {
	err := d.store.Delete(ctx, ref(id))
	d.cache.Remove(id)
	if err != nil {
		if docstore.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	return nil
}

// Invalidate drops cached profiles; with no ids the whole cache is purged
func (d *Directory) Invalidate(ids ...string) {
	if len(ids) == 0 {
		d.cache.Purge()
		return
	}
	for _, id := range ids {
		d.cache.Remove(id)
	}
}

// Watch purges the cache whenever the users collection changes, so writes
// from other processes are seen before the TTL expires.
func (d *Directory) Watch() (docstore.Unsubscribe, error) {
	return d.store.SubscribeCollection(Collection, func([]*docstore.Document) {
		d.cache.Purge()
	}, func(err error) {
		d.logger.WithError(err).Warn("User directory watch stopped; relying on cache TTL")
	})
}

// LoginEvent is one recorded sign-in
type LoginEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	UserAvatar string    `json:"userAvatar,omitempty"`
	Role       rbac.Role `json:"role"`
	IP         string    `json:"ip,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RecordLogin stores a sign-in. Ids are ULIDs so they sort by time.
func (d *Directory) RecordLogin(ctx context.Context, u User, ip string) (*LoginEvent, error) {
	now := d.now().UTC()
	event := LoginEvent{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		UserID:     u.ID,
		UserName:   u.Name,
		UserAvatar: u.AvatarURL,
		Role:       u.Role,
		IP:         ip,
		Timestamp:  now,
	}
	_, err := docstore.Create(ctx, d.store, docstore.NewRef(LoginsCollection, event.ID), map[string]interface{}{
		"userId":     event.UserID,
		"userName":   event.UserName,
		"userAvatar": event.UserAvatar,
		"role":       string(event.Role),
		"ip":         event.IP,
		"timestamp":  now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	return &event, nil
}

// RecentLogins returns up to limit sign-ins, newest first. Records with an
// unreadable timestamp sort last.
func (d *Directory) RecentLogins(ctx context.Context, limit int) ([]LoginEvent, error) {
	docs, err := d.store.List(ctx, LoginsCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to list logins: %w", err)
	}

	events := make([]LoginEvent, 0, len(docs))
	for _, doc := range docs {
		e := LoginEvent{
			ID:         doc.ID,
			UserID:     stringField(doc.Data, "userId"),
			UserName:   stringField(doc.Data, "userName"),
			UserAvatar: stringField(doc.Data, "userAvatar"),
			Role:       rbac.Role(stringField(doc.Data, "role")),
			IP:         stringField(doc.Data, "ip"),
		}
		if ts, err := time.Parse(time.RFC3339Nano, stringField(doc.Data, "timestamp")); err == nil {
			e.Timestamp = ts
		}
		events = append(events, e)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}
