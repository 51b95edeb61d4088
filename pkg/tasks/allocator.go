package tasks

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// IDPrefix starts every sequential task id
const IDPrefix = "T-"

// DefaultReserveAttempts bounds how often Reserve retries after losing a
// race for an id
const DefaultReserveAttempts = 8

// ErrAllocation is returned when no id could be allocated. Nothing has been
// written when it is returned.
var ErrAllocation = errors.New("task id allocation failed")

var idPattern = regexp.MustCompile(`^T-(\d+)$`)

// ParseID returns the numeric suffix of a sequential id
func ParseID(id string) (int, bool) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// FormatID renders n as T-### (wider once n exceeds three digits)
func FormatID(n int) string {
	return fmt.Sprintf("%s%03d", IDPrefix, n)
}

// NextID returns the id following the highest sequential id in ids.
// Ids that do not match T-<digits> are ignored.
func NextID(ids []string) string {
	highest := 0
	for _, id := range ids {
		if n, ok := ParseID(id); ok && n > highest {
			highest = n
		}
	}
	return FormatID(highest + 1)
}

// Allocator hands out sequential task ids
type Allocator struct {
	store       docstore.Store
	metrics     *observability.Metrics
	logger      *observability.Logger
	maxAttempts int
}

// NewAllocator creates an allocator over the tasks collection of store
func NewAllocator(store docstore.Store, logger *observability.Logger, metrics *observability.Metrics) *Allocator {
	return &Allocator{
		store:       store,
		metrics:     metrics,
		logger:      observability.OrNop(logger),
		maxAttempts: DefaultReserveAttempts,
	}
}

// NextID scans the tasks collection and returns the next id. It does not
// reserve the id; concurrent callers may receive the same value.
func (a *Allocator) NextID(ctx context.Context) (string, error) {
	docs, err := a.store.List(ctx, Collection)
	if err != nil {
		return "", fmt.Errorf("%w: failed to scan tasks: %w", ErrAllocation, err)
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return NextID(ids), nil
}

// Reserve allocates the next id and creates the task document under it in
// one step. build receives the candidate id and returns the document
// contents. When another writer takes the id first, the scan is repeated
// and build is called again with a fresh id.
func (a *Allocator) Reserve(ctx context.Context, build func(id string) (map[string]interface{}, error)) (doc *docstore.Document, err error) {
	defer func() { a.metrics.IDAllocation(err) }()

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		id, err := a.NextID(ctx)
		if err != nil {
			return nil, err
		}
		data, err := build(id)
		if err != nil {
			return nil, err
		}

		doc, err = docstore.Create(ctx, a.store, Ref(id), data)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, docstore.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: failed to create %s: %w", ErrAllocation, id, err)
		}

		a.metrics.IDAllocationRetry()
		a.logger.WithFields(map[string]interface{}{
			"task_id": id,
			"attempt": attempt,
		}).Debug("Task id taken concurrently, retrying")
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts: %w", ErrAllocation, a.maxAttempts, docstore.ErrConflict)
}
