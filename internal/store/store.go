// Package store defines the storage contracts consumed by the registry and
// the task queue, with in-memory, Redis and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fleetwatch/beacond/internal/models"
)

var (
	// ErrNotFound is returned when a keyed record does not exist
	ErrNotFound = errors.New("store: not found")
	// ErrTaskDispatched is returned when cancelling a task that already left the queue
	ErrTaskDispatched = errors.New("store: task already dispatched")
	// ErrConflict is returned when an optimistic update lost too many races
	ErrConflict = errors.New("store: concurrent update conflict")
	// ErrDuplicate is returned when creating a record whose key is taken
	ErrDuplicate = errors.New("store: already exists")
)

// UpdateFunc computes the next version of an implant record. current is nil
// when no record exists and is always a private copy. Returning a nil record
// leaves storage untouched; returning an error aborts without writing.
type UpdateFunc func(current *models.Implant) (*models.Implant, error)

// ImplantBackend is a keyed get/upsert/scan store over implant records.
// UpdateImplant must apply fn atomically with respect to other updates of
// the same implant id.
type ImplantBackend interface {
	GetImplant(ctx context.Context, implantID string) (*models.Implant, error)
	UpdateImplant(ctx context.Context, implantID string, fn UpdateFunc) (*models.Implant, error)
	ListImplants(ctx context.Context) ([]*models.Implant, error)
	DeleteImplant(ctx context.Context, implantID string) error
	Ping(ctx context.Context) error
}

// TaskBackend is an ordered per-implant queue of tasks.
// PopPending must never hand the same task to two callers.
type TaskBackend interface {
	AppendTask(ctx context.Context, task *models.Task) (*models.Task, error)
	PopPending(ctx context.Context, implantID string, max int, dispatchedAt time.Time) ([]*models.Task, error)
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	ListTasks(ctx context.Context, implantID string, includeDispatched bool) ([]*models.Task, error)
	CancelTask(ctx context.Context, taskID string) error
	Ping(ctx context.Context) error
}

// TaskTypeBackend is the catalog of task types keyed by unique name
type TaskTypeBackend interface {
	CreateTaskType(ctx context.Context, tt *models.TaskType) error
	GetTaskType(ctx context.Context, name string) (*models.TaskType, error)
	ListTaskTypes(ctx context.Context) ([]*models.TaskType, error)
	DeleteTaskType(ctx context.Context, name string) error
}

// dispatch marks a popped task as handed out
func dispatch(t *models.Task, at time.Time) {
	t.Status = models.TaskStatusDispatched
	t.DispatchedAt = at
}
