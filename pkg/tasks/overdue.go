package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/tasktrax/pkg/async"
	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// Overdue reports whether t is past its due date on now's day and still
// open. Completed, held and already overdue tasks are never overdue.
func Overdue(t Task, now time.Time) bool {
	if t.DueDate == nil {
		return false
	}
	switch t.Status {
	case StatusCompleted, StatusToHold, StatusOverdue:
		return false
	}
	return startOfDay(*t.DueDate).Before(startOfDay(now))
}

// sweepWorkers bounds concurrent writes during a sweep
const sweepWorkers = 4

// OverdueSweeper marks open tasks whose due date has passed as Overdue
type OverdueSweeper struct {
	service *Service
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewOverdueSweeper creates a sweeper acting through service
func NewOverdueSweeper(service *Service, logger *observability.Logger, metrics *observability.Metrics) *OverdueSweeper {
	return &OverdueSweeper{
		service: service,
		logger:  observability.OrNop(logger),
		metrics: metrics,
		now:     time.Now,
	}
}

// Sweep marks every overdue task and returns how many it changed. The
// overdue check is repeated inside each task's write, so a task completed
// concurrently is left alone.
func (o *OverdueSweeper) Sweep(ctx context.Context) (marked int, err error) {
	defer func() { o.metrics.OverdueSweep(marked, err) }()

	all, err := o.service.listAll(ctx)
	if err != nil {
		return 0, err
	}

	now := o.now()
	var due []string
	for _, t := range all {
		if Overdue(t, now) {
			due = append(due, t.ID)
		}
	}

	var count atomic.Int32
	results := async.Batch(ctx, due, sweepWorkers, func(ctx context.Context, id string) error {
		changed, err := o.mark(ctx, id, now)
		if errors.Is(err, ErrTaskNotFound) {
			return nil
		}
		if err != nil {
			o.logger.WithError(err).WithField("task_id", id).Warn("Failed to mark task overdue")
			return err
		}
		if changed {
			count.Add(1)
		}
		return nil
	})
	marked = int(count.Load())
	errs := async.Errors(results)

	if marked > 0 {
		o.logger.WithField("marked", marked).Info("Marked tasks overdue")
	}
	return marked, errors.Join(errs...)
}

func (o *OverdueSweeper) mark(ctx context.Context, id string, now time.Time) (bool, error) {
	s := o.service
	_, after, changed, err := s.mutate(ctx, SystemUser, id, func(b Task) (map[string]interface{}, []Activity, error) {
		if !Overdue(b, now) {
			return nil, nil, nil
		}
		patch := map[string]interface{}{"status": string(StatusOverdue)}
		return patch, []Activity{s.appender.Entry(SystemUser, ActionMarkedOverdue, FormatTime(*b.DueDate))}, nil
	})
	if err != nil || !changed {
		return false, err
	}

	event := s.event(ctx, audit.EventTypeTaskOverdue, audit.EventStatusSuccess, SystemUser, id)
	event.Changes = &audit.ChangeDetails{After: map[string]interface{}{"status": string(after.Status)}}
	s.recorder.Record(ctx, event)
	return true, nil
}
