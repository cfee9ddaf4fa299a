package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/fleetwatch/beacond/internal/models"
	"github.com/fleetwatch/beacond/internal/store"
)

var (
	// ErrInvalidTaskType is returned for a type with a blank name or bad param list
	ErrInvalidTaskType = errors.New("invalid task type")
	// ErrTaskTypeExists is returned when creating a type whose name is taken
	ErrTaskTypeExists = errors.New("task type already exists")
	// ErrUnknownTaskType is returned when a typed task names no known type
	ErrUnknownTaskType = errors.New("unknown task type")
	// ErrParamMismatch is returned when typed task params differ from the type's
	ErrParamMismatch = errors.New("task params do not match type")
)

// WithTaskTypes keeps the task type catalog in backend instead of memory
func WithTaskTypes(backend store.TaskTypeBackend) Option {
	return func(q *Queue) {
		if backend != nil {
			q.types = backend
		}
	}
}

// validateTaskType checks that tt has a name and distinct, non-blank params
func validateTaskType(tt *models.TaskType) error {
	if strings.TrimSpace(tt.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTaskType)
	}
	seen := make(map[string]struct{}, len(tt.Params))
	for _, p := range tt.Params {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: %s: blank param name", ErrInvalidTaskType, tt.Name)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("%w: %s: param %q repeated", ErrInvalidTaskType, tt.Name, p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

func (q *Queue) classifyType(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrUnknownTaskType)
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%s: %w", op, ErrTaskTypeExists)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
}

// CreateType adds a task type to the catalog. Names are unique.
func (q *Queue) CreateType(ctx context.Context, name string, params []string) (*models.TaskType, error) {
	tt := &models.TaskType{Name: name, Params: append([]string{}, params...)}
	if err := validateTaskType(tt); err != nil {
		return nil, err
	}

	ctx, cancel := q.scoped(ctx)
	defer cancel()

	if err := q.types.CreateTaskType(ctx, tt); err != nil {
		return nil, q.classifyType("create task type "+name, err)
	}
	log.Printf("TaskQueue: registered task type %s (%d params)", name, len(tt.Params))
	return tt, nil
}

// Types lists the catalog ordered by name
func (q *Queue) Types(ctx context.Context) ([]*models.TaskType, error) {
	ctx, cancel := q.scoped(ctx)
	defer cancel()

	types, err := q.types.ListTaskTypes(ctx)
	if err != nil {
		return nil, q.classifyType("list task types", err)
	}
	return types, nil
}

// DeleteType removes a task type. Tasks already queued with it are kept.
func (q *Queue) DeleteType(ctx context.Context, name string) error {
	ctx, cancel := q.scoped(ctx)
	defer cancel()

	if err := q.types.DeleteTaskType(ctx, name); err != nil {
		return q.classifyType("delete task type "+name, err)
	}
	log.Printf("TaskQueue: removed task type %s", name)
	return nil
}

// EnqueueTyped queues a task whose payload is a TypedPayload for typeName.
// params must name every parameter of the type and nothing else.
func (q *Queue) EnqueueTyped(ctx context.Context, implantID, typeName string, params map[string]string) (*models.Task, error) {
	if implantID == "" {
		return nil, ErrInvalidTask
	}

	lookupCtx, cancel := q.scoped(ctx)
	tt, err := q.types.GetTaskType(lookupCtx, typeName)
	cancel()
	if err != nil {
		return nil, q.classifyType("enqueue "+typeName+" for "+implantID, err)
	}
	if err := matchParams(tt, params); err != nil {
		return nil, err
	}

	if params == nil {
		params = map[string]string{}
	}
	payload, err := json.Marshal(models.TypedPayload{Type: tt.Name, Params: params})
	if err != nil {
		return nil, err
	}
	return q.Enqueue(ctx, implantID, string(payload))
}

// matchParams reports the missing and unexpected param names, if any
func matchParams(tt *models.TaskType, params map[string]string) error {
	want := make(map[string]struct{}, len(tt.Params))
	var missing []string
	for _, p := range tt.Params {
		want[p] = struct{}{}
		if _, ok := params[p]; !ok {
			missing = append(missing, p)
		}
	}
	var extra []string
	for p := range params {
		if _, ok := want[p]; !ok {
			extra = append(extra, p)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	return fmt.Errorf("%w: %s: missing %v, unexpected %v", ErrParamMismatch, tt.Name, missing, extra)
}
