package docstore

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// InstrumentedStore decorates a Store with tracing spans and Prometheus metrics
type InstrumentedStore struct {
	Store
	metrics *observability.Metrics
	backend string
	tracer  trace.Tracer
}

// Instrument wraps s. metrics may be nil.
func Instrument(s Store, metrics *observability.Metrics, backend string) *InstrumentedStore {
	return &InstrumentedStore{
		Store:   s,
		metrics: metrics,
		backend: backend,
		tracer:  observability.Tracer(),
	}
}

func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "internal"
	}
}

func (s *InstrumentedStore) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	began := time.Now()
	attrs = append(attrs, attribute.String("docstore.backend", s.backend))
	ctx, span := s.tracer.Start(ctx, "docstore."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		// a missing document is an answer, not a failure
		if err != nil && !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveStoreOp(op, s.backend, time.Since(began), err, errorType(err))
	}
}

func refAttrs(ref Ref) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("docstore.collection", ref.Collection),
		attribute.String("docstore.id", ref.ID),
	}
}

// Get implements Store
func (s *InstrumentedStore) Get(ctx context.Context, ref Ref) (*Document, error) {
	ctx, done := s.start(ctx, "get", refAttrs(ref)...)
	doc, err := s.Store.Get(ctx, ref)
	done(err)
	return doc, err
}

// List implements Store
func (s *InstrumentedStore) List(ctx context.Context, collection string) ([]*Document, error) {
	ctx, done := s.start(ctx, "list", attribute.String("docstore.collection", collection))
	docs, err := s.Store.List(ctx, collection)
	done(err)
	return docs, err
}

// Mutate implements Store
func (s *InstrumentedStore) Mutate(ctx context.Context, ref Ref, fn MutateFunc) (*Document, error) {
	ctx, done := s.start(ctx, "mutate", refAttrs(ref)...)
	doc, err := s.Store.Mutate(ctx, ref, fn)
	done(err)
	return doc, err
}

// Delete implements Store
func (s *InstrumentedStore) Delete(ctx context.Context, ref Ref) error {
	ctx, done := s.start(ctx, "delete", refAttrs(ref)...)
	err := s.Store.Delete(ctx, ref)
	done(err)
	return err
}

// Unwrap returns the decorated store
func (s *InstrumentedStore) Unwrap() Store {
	return s.Store
}
