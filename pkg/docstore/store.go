package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Create when the document exists
	ErrAlreadyExists = errors.New("document already exists")
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("store is closed")
	// ErrConflict is returned when an optimistic write kept losing races
	ErrConflict = errors.New("concurrent modification")
)

// Ref addresses a single document
type Ref struct {
	Collection string
	ID         string
}

// NewRef returns a reference to collection/id
func NewRef(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// Validate rejects empty or path-like components
func (r Ref) Validate() error {
	if r.Collection == "" || r.ID == "" {
		return fmt.Errorf("invalid document reference %q", r.String())
	}
	return nil
}

// Document is one stored record
type Document struct {
	Collection string
	ID         string
	Data       map[string]interface{}
	UpdatedAt  time.Time
}

// Ref returns the document's reference
func (d *Document) Ref() Ref {
	return Ref{Collection: d.Collection, ID: d.ID}
}

// MutateFunc computes the next contents of a document from its current
// contents. exists is false when the document is missing, in which case
// current is an empty map. Returning a nil map leaves the document untouched.
// The function may be invoked more than once when a backend retries.
type MutateFunc func(current map[string]interface{}, exists bool) (map[string]interface{}, error)

// Unsubscribe stops a subscription; calling it more than once is harmless
type Unsubscribe func()

// Store is the document store contract
type Store interface {
	// Get returns the document or ErrNotFound
	Get(ctx context.Context, ref Ref) (*Document, error)
	// List returns every document in a collection ordered by id
	List(ctx context.Context, collection string) ([]*Document, error)
	// Mutate atomically replaces a document with fn's result
	Mutate(ctx context.Context, ref Ref, fn MutateFunc) (*Document, error)
	// Delete removes a document or returns ErrNotFound
	Delete(ctx context.Context, ref Ref) error

	// SubscribeCollection delivers the full collection after every change.
	// The first snapshot is delivered asynchronously after subscribing.
	SubscribeCollection(collection string, onChange func([]*Document), onError func(error)) (Unsubscribe, error)
	// SubscribeDocument delivers the document after every change, or nil
	// while it does not exist.
	SubscribeDocument(ref Ref, onChange func(*Document), onError func(error)) (Unsubscribe, error)

	Ping(ctx context.Context) error
	Close() error
}

// EncodeData serializes document contents
func EncodeData(data map[string]interface{}) ([]byte, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return b, nil
}

// DecodeData parses document contents produced by EncodeData
func DecodeData(b []byte) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	if len(b) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return data, nil
}

// SortDocuments orders documents by id
func SortDocuments(docs []*Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}

// Now returns the store clock truncated to microseconds so that every
// backend round-trips timestamps identically.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
