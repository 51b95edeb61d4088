package docstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/tasktrax/pkg/observability"
)

type memoryRecord struct {
	data      []byte
	updatedAt time.Time
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]memoryRecord
	closed      bool
	hub         *Hub
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger *observability.Logger) *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]memoryRecord),
		hub:         NewHub(logger),
	}
}

func (s *MemoryStore) decode(collection, id string, rec memoryRecord) (*Document, error) {
	data, err := DecodeData(rec.data)
	if err != nil {
		return nil, err
	}
	return &Document{Collection: collection, ID: id, Data: data, UpdatedAt: rec.updatedAt}, nil
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, ref Ref) (*Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	rec, ok := s.collections[ref.Collection][ref.ID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.decode(ref.Collection, ref.ID, rec)
}

// List implements Store
func (s *MemoryStore) List(ctx context.Context, collection string) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	docs := make([]*Document, 0, len(s.collections[collection]))
	for id, rec := range s.collections[collection] {
		doc, err := s.decode(collection, id, rec)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	SortDocuments(docs)
	return docs, nil
}

// Mutate implements Store
func (s *MemoryStore) Mutate(ctx context.Context, ref Ref, fn MutateFunc) (*Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	rec, exists := s.collections[ref.Collection][ref.ID]
	current, err := DecodeData(rec.data)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	next, err := fn(current, exists)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if next == nil {
		s.mu.Unlock()
		if !exists {
			return nil, ErrNotFound
		}
		return s.decode(ref.Collection, ref.ID, rec)
	}

	payload, err := EncodeData(next)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	rec = memoryRecord{data: payload, updatedAt: Now()}
	if s.collections[ref.Collection] == nil {
		s.collections[ref.Collection] = make(map[string]memoryRecord)
	}
	s.collections[ref.Collection][ref.ID] = rec
	s.mu.Unlock()

	s.hub.Notify(ref.Collection, ref.ID)
	return s.decode(ref.Collection, ref.ID, rec)
}

// Delete implements Store
func (s *MemoryStore) Delete(ctx context.Context, ref Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, ok := s.collections[ref.Collection][ref.ID]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.collections[ref.Collection], ref.ID)
	s.mu.Unlock()

	s.hub.Notify(ref.Collection, ref.ID)
	return nil
}

// SubscribeCollection implements Store
func (s *MemoryStore) SubscribeCollection(collection string, onChange func([]*Document), onError func(error)) (Unsubscribe, error) {
	return s.hub.Subscribe(collection, "", CollectionLoader(s, collection, onChange), onError)
}

// SubscribeDocument implements Store
func (s *MemoryStore) SubscribeDocument(ref Ref, onChange func(*Document), onError func(error)) (Unsubscribe, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ref.Collection, ref.ID, DocumentLoader(s, ref, onChange), onError)
}

// Ping implements Store
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
	return nil
}

// FailSubscriptions reports err to every open subscription, the way a
// dropped connection would on a networked backend.
func (s *MemoryStore) FailSubscriptions(err error) {
	s.hub.Fail(err)
}

// CollectionLoader builds a hub Loader that lists collection through s
func CollectionLoader(s Store, collection string, onChange func([]*Document)) Loader {
	return func(ctx context.Context) (func(), error) {
		docs, err := s.List(ctx, collection)
		if err != nil {
			return nil, err
		}
		return func() { onChange(docs) }, nil
	}
}

// DocumentLoader builds a hub Loader that reads ref through s
func DocumentLoader(s Store, ref Ref, onChange func(*Document)) Loader {
	return func(ctx context.Context) (func(), error) {
		doc, err := s.Get(ctx, ref)
		if errors.Is(err, ErrNotFound) {
			return func() { onChange(nil) }, nil
		}
		if err != nil {
			return nil, err
		}
		return func() { onChange(doc) }, nil
	}
}
