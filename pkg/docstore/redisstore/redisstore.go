// Package redisstore implements docstore.Store on Redis.
//
// Each document is a JSON envelope under <prefix>doc:<collection>:<id>, each
// collection keeps a set of its ids under <prefix>col:<collection>, and every
// write publishes the document id on <prefix>changes:<collection>. A single
// pattern subscription per store feeds the change notifications of every
// process sharing the Redis instance into the local subscription hub.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// DefaultPrefix namespaces every key the store writes
const DefaultPrefix = "tasktrax:"

// Config configures the Redis store
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	Prefix     string
	MaxRetries int // optimistic transaction retries per Mutate
}

// envelope is the stored representation of a document
type envelope struct {
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Store is a Redis-backed docstore.Store
type Store struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	maxRetries int
	hub        *docstore.Hub
	logger     *observability.Logger

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New connects to Redis and starts the change feed
func New(ctx context.Context, cfg Config, logger *observability.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s, err := NewWithClient(ctx, client, cfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// NewWithClient builds a store on an existing client. The caller keeps
// ownership of client.
func NewWithClient(ctx context.Context, client *redis.Client, cfg Config, logger *observability.Logger) (*Store, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 50
	}

	logger = observability.OrNop(logger).WithField("component", "redisstore")
	s := &Store{
		client:     client,
		prefix:     prefix,
		maxRetries: retries,
		hub:        docstore.NewHub(logger),
		logger:     logger,
	}

	pubsub := client.PSubscribe(ctx, s.changesChannel("*"))
	// wait for the subscription to be acknowledged so no write is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to change feed: %w", err)
	}
	s.pubsub = pubsub

	feedCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.consume(feedCtx)

	return s, nil
}

func (s *Store) docKey(ref docstore.Ref) string {
	return s.prefix + "doc:" + ref.Collection + ":" + ref.ID
}

func (s *Store) collectionKey(collection string) string {
	return s.prefix + "col:" + collection
}

func (s *Store) changesChannel(collection string) string {
	return s.prefix + "changes:" + collection
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.ErrClosed
	}
	return nil
}

func decodeEnvelope(ref docstore.Ref, raw []byte) (*docstore.Document, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", ref, err)
	}
	data, err := docstore.DecodeData(env.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", ref, err)
	}
	return &docstore.Document{
		Collection: ref.Collection,
		ID:         ref.ID,
		Data:       data,
		UpdatedAt:  env.UpdatedAt,
	}, nil
}

// Get implements docstore.Store
func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	raw, err := s.client.Get(ctx, s.docKey(ref)).Bytes()
	if err == redis.Nil {
		return nil, docstore.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return decodeEnvelope(ref, raw)
}

// List implements docstore.Store
func (s *Store) List(ctx context.Context, collection string) ([]*docstore.Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, s.collectionKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	if len(ids) == 0 {
		return []*docstore.Document{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(docstore.NewRef(collection, id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}

	docs := make([]*docstore.Document, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// removed between SMEMBERS and MGET
			continue
		}
		doc, err := decodeEnvelope(docstore.NewRef(collection, ids[i]), []byte(raw))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	docstore.SortDocuments(docs)
	return docs, nil
}

// Mutate implements docstore.Store using WATCH/MULTI/EXEC with retries
func (s *Store) Mutate(ctx context.Context, ref docstore.Ref, fn docstore.MutateFunc) (*docstore.Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	key := s.docKey(ref)
	var result *docstore.Document
	var written bool

	txf := func(tx *redis.Tx) error {
		written = false
		result = nil
		current := map[string]interface{}{}
		exists := true

		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			exists = false
		} else if err != nil {
			return fmt.Errorf("redis get failed: %w", err)
		} else {
			doc, err := decodeEnvelope(ref, raw)
			if err != nil {
				return err
			}
			current = doc.Data
			result = doc
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		if next == nil {
			if !exists {
				return docstore.ErrNotFound
			}
			return nil
		}

		data, err := docstore.EncodeData(next)
		if err != nil {
			return err
		}
		now := docstore.Now()
		payload, err := json.Marshal(envelope{Data: data, UpdatedAt: now})
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", ref, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, s.collectionKey(ref.Collection), ref.ID)
			pipe.Publish(ctx, s.changesChannel(ref.Collection), ref.ID)
			return nil
		})
		if err != nil {
			return err
		}

		stored, err := docstore.DecodeData(data)
		if err != nil {
			return err
		}
		written = true
		result = &docstore.Document{Collection: ref.Collection, ID: ref.ID, Data: stored, UpdatedAt: now}
		return nil
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if written {
			s.hub.Notify(ref.Collection, ref.ID)
		}
		return result, nil
	}

	return nil, fmt.Errorf("mutate %s: %w", ref, docstore.ErrConflict)
}

// Delete implements docstore.Store
func (s *Store) Delete(ctx context.Context, ref docstore.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.docKey(ref))
		pipe.SRem(ctx, s.collectionKey(ref.Collection), ref.ID)
		pipe.Publish(ctx, s.changesChannel(ref.Collection), ref.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	if del.Val() == 0 {
		return docstore.ErrNotFound
	}
	s.hub.Notify(ref.Collection, ref.ID)
	return nil
}

// SubscribeCollection implements docstore.Store
func (s *Store) SubscribeCollection(collection string, onChange func([]*docstore.Document), onError func(error)) (docstore.Unsubscribe, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(collection, "", docstore.CollectionLoader(s, collection, onChange), onError)
}

// SubscribeDocument implements docstore.Store
func (s *Store) SubscribeDocument(ref docstore.Ref, onChange func(*docstore.Document), onError func(error)) (docstore.Unsubscribe, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ref.Collection, ref.ID, docstore.DocumentLoader(s, ref, onChange), onError)
}

// consume forwards published changes to the hub. A receive error is
// reported to current subscribers; the next receive reconnects.
func (s *Store) consume(ctx context.Context) {
	defer s.wg.Done()
	defer observability.RecoverPanic(s.logger, "redis change feed")

	channelPrefix := s.changesChannel("")
	backoff := 100 * time.Millisecond

	for {
		msg, err := s.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Warn("change feed interrupted")
			s.hub.Fail(fmt.Errorf("redis change feed: %w", err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = 100 * time.Millisecond

		collection := strings.TrimPrefix(msg.Channel, channelPrefix)
		s.hub.Notify(collection, msg.Payload)
	}
}

// Ping implements docstore.Store
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close stops the change feed and closes the client if the store owns it
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.pubsub.Close()
	s.wg.Wait()
	s.hub.Close()

	if s.ownsClient {
		if cerr := s.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
