// Package taskqueue holds per-implant pending work and hands it out in
// enqueue order on each beacon. The queue is independent of the registry:
// work can be queued for an implant that has never checked in.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fleetwatch/beacond/internal/clock"
	"github.com/fleetwatch/beacond/internal/events"
	"github.com/fleetwatch/beacond/internal/keylock"
	"github.com/fleetwatch/beacond/internal/models"
	"github.com/fleetwatch/beacond/internal/store"
)

var (
	// ErrInvalidTask is returned for a task without an implant id
	ErrInvalidTask = errors.New("task requires an implant id")
	// ErrNotFound is returned for an unknown task id
	ErrNotFound = errors.New("task not found")
	// ErrAlreadyDispatched is returned when cancelling a task an implant already received
	ErrAlreadyDispatched = errors.New("task already dispatched")
	// ErrUnavailable is returned when the backing store could not complete an operation
	ErrUnavailable = errors.New("task queue unavailable")
)

// Queue is the per-implant task queue
type Queue struct {
	backend store.TaskBackend
	types   store.TaskTypeBackend
	clock   clock.Clock
	locks   *keylock.Map
	events  events.Publisher
	timeout time.Duration
	newID   func() string
}

// Option configures a Queue
type Option func(*Queue)

// WithEvents publishes task changes to p
func WithEvents(p events.Publisher) Option {
	return func(q *Queue) {
		if p != nil {
			q.events = p
		}
	}
}

// WithStorageTimeout bounds every backend call
func WithStorageTimeout(d time.Duration) Option {
	return func(q *Queue) { q.timeout = d }
}

// WithIDGenerator replaces the task id generator
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) {
		if fn != nil {
			q.newID = fn
		}
	}
}

// New creates a task queue over backend. The task type catalog lives in
// memory unless WithTaskTypes supplies a backend.
func New(backend store.TaskBackend, clk clock.Clock, opts ...Option) *Queue {
	if clk == nil {
		clk = clock.System{}
	}
	q := &Queue{
		backend: backend,
		types:   store.NewMemoryTaskTypes(),
		clock:   clk,
		locks:   keylock.New(),
		events:  events.Discard,
		timeout: 5 * time.Second,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, q.timeout)
}

func (q *Queue) classify(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, store.ErrTaskDispatched):
		return fmt.Errorf("%s: %w", op, ErrAlreadyDispatched)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
}

// Enqueue appends a pending task for implantID and returns it. The implant
// does not have to be known to the registry.
func (q *Queue) Enqueue(ctx context.Context, implantID, payload string) (*models.Task, error) {
	if implantID == "" {
		return nil, ErrInvalidTask
	}

	ctx, cancel := q.scoped(ctx)
	defer cancel()

	task, err := q.backend.AppendTask(ctx, models.NewTask(q.newID(), implantID, payload, q.clock.Now()))
	if err != nil {
		return nil, q.classify("enqueue for "+implantID, err)
	}

	log.Printf("TaskQueue: queued task %s for implant %s", task.ID, implantID)
	q.publish(events.EventCreate, task)
	return task, nil
}

// DrainDue removes up to maxBatch of the implant's oldest pending tasks,
// marks them dispatched and returns them in enqueue order. An empty queue
// yields an empty slice, never an error. Drains for the same implant are
// serialized, so concurrent callers never receive the same task.
func (q *Queue) DrainDue(ctx context.Context, implantID string, maxBatch int) ([]*models.Task, error) {
	if maxBatch <= 0 {
		return []*models.Task{}, nil
	}

	unlock := q.locks.Lock(implantID)
	defer unlock()

	ctx, cancel := q.scoped(ctx)
	defer cancel()

	tasks, err := q.backend.PopPending(ctx, implantID, maxBatch, q.clock.Now())
	if err != nil {
		return nil, q.classify("drain "+implantID, err)
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}

	for _, t := range tasks {
		q.publish(events.EventDispatched, t)
	}
	return tasks, nil
}

// Get returns a task by id
func (q *Queue) Get(ctx context.Context, taskID string) (*models.Task, error) {
	ctx, cancel := q.scoped(ctx)
	defer cancel()

	task, err := q.backend.GetTask(ctx, taskID)
	if err != nil {
		return nil, q.classify("get task "+taskID, err)
	}
	return task, nil
}

// List returns the implant's pending tasks in enqueue order, with the
// dispatched ones interleaved by sequence when includeDispatched is set.
func (q *Queue) List(ctx context.Context, implantID string, includeDispatched bool) ([]*models.Task, error) {
	ctx, cancel := q.scoped(ctx)
	defer cancel()

	tasks, err := q.backend.ListTasks(ctx, implantID, includeDispatched)
	if err != nil {
		return nil, q.classify("list tasks for "+implantID, err)
	}
	return tasks, nil
}

// Cancel removes a task that has not been dispatched yet
func (q *Queue) Cancel(ctx context.Context, taskID string) error {
	ctx, cancel := q.scoped(ctx)
	defer cancel()

	task, err := q.backend.GetTask(ctx, taskID)
	if err != nil {
		return q.classify("cancel "+taskID, err)
	}

	unlock := q.locks.Lock(task.ImplantID)
	defer unlock()

	if err := q.backend.CancelTask(ctx, taskID); err != nil {
		return q.classify("cancel "+taskID, err)
	}

	log.Printf("TaskQueue: cancelled task %s for implant %s", taskID, task.ImplantID)
	q.publish(events.EventDelete, task)
	return nil
}

// Ping checks that the backing store is reachable
func (q *Queue) Ping(ctx context.Context) error {
	ctx, cancel := q.scoped(ctx)
	defer cancel()
	if err := q.backend.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (q *Queue) publish(kind events.EventType, t *models.Task) {
	q.events.Publish(events.Event{
		EntityType: events.EntityTask,
		EventType:  kind,
		EntityID:   t.ID,
		Entity:     t.Clone(),
		At:         q.clock.Now(),
	})
}
