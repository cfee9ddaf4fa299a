package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetwatch/beacond/internal/models"
)

type implantSlot struct {
	mu      sync.RWMutex
	rec     *models.Implant
	removed bool
}

// MemoryImplants keeps implant records in process memory. Each implant id
// owns its own slot lock, so writers for different ids never contend.
type MemoryImplants struct {
	slots sync.Map // implantID -> *implantSlot
}

// NewMemoryImplants creates an empty in-memory implant store
func NewMemoryImplants() *MemoryImplants {
	return &MemoryImplants{}
}

// GetImplant returns a copy of the stored implant
func (s *MemoryImplants) GetImplant(ctx context.Context, implantID string) (*models.Implant, error) {
	v, ok := s.slots.Load(implantID)
	if !ok {
		return nil, ErrNotFound
	}
	slot := v.(*implantSlot)
	slot.mu.RLock()
	defer slot.mu.RUnlock()
	if slot.rec == nil || slot.removed {
		return nil, ErrNotFound
	}
	return slot.rec.Clone(), nil
}

// UpdateImplant applies fn under the implant's slot lock
func (s *MemoryImplants) UpdateImplant(ctx context.Context, implantID string, fn UpdateFunc) (*models.Implant, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, _ := s.slots.LoadOrStore(implantID, &implantSlot{})
		rec, retry, err := s.updateSlot(implantID, v.(*implantSlot), fn)
		if retry {
			continue
		}
		return rec, err
	}
}

// updateSlot runs fn with the slot locked. retry reports that the slot was
// removed by a concurrent delete and the caller must load a fresh one.
func (s *MemoryImplants) updateSlot(implantID string, slot *implantSlot, fn UpdateFunc) (rec *models.Implant, retry bool, err error) {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.removed {
		return nil, true, nil
	}
	// An empty slot left behind by a failed or panicking create is dropped
	defer func() {
		if slot.rec == nil && !slot.removed {
			slot.removed = true
			s.slots.CompareAndDelete(implantID, slot)
		}
	}()

	next, err := fn(slot.rec.Clone())
	if err != nil || next == nil {
		return slot.rec.Clone(), false, err
	}
	slot.rec = next.Clone()
	return next, false, nil
}

// ListImplants returns copies of every stored implant ordered by id
func (s *MemoryImplants) ListImplants(ctx context.Context) ([]*models.Implant, error) {
	var out []*models.Implant
	s.slots.Range(func(_, v any) bool {
		slot := v.(*implantSlot)
		slot.mu.RLock()
		if slot.rec != nil && !slot.removed {
			out = append(out, slot.rec.Clone())
		}
		slot.mu.RUnlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ImplantID < out[j].ImplantID })
	return out, nil
}

// DeleteImplant removes the implant record
func (s *MemoryImplants) DeleteImplant(ctx context.Context, implantID string) error {
	v, ok := s.slots.Load(implantID)
	if !ok {
		return ErrNotFound
	}
	slot := v.(*implantSlot)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.rec == nil || slot.removed {
		return ErrNotFound
	}
	slot.removed = true
	s.slots.CompareAndDelete(implantID, slot)
	return nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryImplants) Ping(ctx context.Context) error {
	return nil
}

type memoryQueue struct {
	mu         sync.Mutex
	pending    []*models.Task
	dispatched []*models.Task
}

// MemoryTasks keeps per-implant task queues in process memory
type MemoryTasks struct {
	seq    atomic.Int64
	queues sync.Map // implantID -> *memoryQueue
	owners sync.Map // taskID -> implantID
}

// NewMemoryTasks creates an empty in-memory task store
func NewMemoryTasks() *MemoryTasks {
	return &MemoryTasks{}
}

func (s *MemoryTasks) queue(implantID string) *memoryQueue {
	v, _ := s.queues.LoadOrStore(implantID, &memoryQueue{})
	return v.(*memoryQueue)
}

// AppendTask assigns the next sequence number and appends the task
func (s *MemoryTasks) AppendTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	t := task.Clone()
	q := s.queue(t.ImplantID)
	q.mu.Lock()
	// Sequence is taken under the queue lock so per-implant order matches it.
	t.Sequence = s.seq.Add(1)
	q.pending = append(q.pending, t)
	q.mu.Unlock()
	s.owners.Store(t.ID, t.ImplantID)
	return t.Clone(), nil
}

// PopPending removes up to max of the oldest pending tasks
func (s *MemoryTasks) PopPending(ctx context.Context, implantID string, max int, dispatchedAt time.Time) ([]*models.Task, error) {
	if max <= 0 {
		return []*models.Task{}, nil
	}
	v, ok := s.queues.Load(implantID)
	if !ok {
		return []*models.Task{}, nil
	}
	q := v.(*memoryQueue)
	q.mu.Lock()
	defer q.mu.Unlock()

	n := max
	if n > len(q.pending) {
		n = len(q.pending)
	}
	out := make([]*models.Task, 0, n)
	for _, t := range q.pending[:n] {
		dispatch(t, dispatchedAt)
		q.dispatched = append(q.dispatched, t)
		out = append(out, t.Clone())
	}
	q.pending = append([]*models.Task(nil), q.pending[n:]...)
	return out, nil
}

// GetTask returns a copy of the task with the given id
func (s *MemoryTasks) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	owner, ok := s.owners.Load(taskID)
	if !ok {
		return nil, ErrNotFound
	}
	v, ok := s.queues.Load(owner.(string))
	if !ok {
		return nil, ErrNotFound
	}
	q := v.(*memoryQueue)
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, list := range [][]*models.Task{q.pending, q.dispatched} {
		for _, t := range list {
			if t.ID == taskID {
				return t.Clone(), nil
			}
		}
	}
	return nil, ErrNotFound
}

// ListTasks returns the implant's tasks ordered by sequence
func (s *MemoryTasks) ListTasks(ctx context.Context, implantID string, includeDispatched bool) ([]*models.Task, error) {
	out := []*models.Task{}
	v, ok := s.queues.Load(implantID)
	if !ok {
		return out, nil
	}
	q := v.(*memoryQueue)
	q.mu.Lock()
	if includeDispatched {
		for _, t := range q.dispatched {
			out = append(out, t.Clone())
		}
	}
	for _, t := range q.pending {
		out = append(out, t.Clone())
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// CancelTask removes a pending task
func (s *MemoryTasks) CancelTask(ctx context.Context, taskID string) error {
	owner, ok := s.owners.Load(taskID)
	if !ok {
		return ErrNotFound
	}
	v, ok := s.queues.Load(owner.(string))
	if !ok {
		return ErrNotFound
	}
	q := v.(*memoryQueue)
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.pending {
		if t.ID == taskID {
			q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
			s.owners.Delete(taskID)
			return nil
		}
	}
	for _, t := range q.dispatched {
		if t.ID == taskID {
			return ErrTaskDispatched
		}
	}
	return ErrNotFound
}

// Ping always succeeds for the in-memory store
func (s *MemoryTasks) Ping(ctx context.Context) error {
	return nil
}

// MemoryTaskTypes keeps the task type catalog in process memory
type MemoryTaskTypes struct {
	mu    sync.RWMutex
	types map[string]*models.TaskType
}

// NewMemoryTaskTypes creates an empty in-memory catalog
func NewMemoryTaskTypes() *MemoryTaskTypes {
	return &MemoryTaskTypes{types: make(map[string]*models.TaskType)}
}

// CreateTaskType stores tt unless its name is already taken
func (s *MemoryTaskTypes) CreateTaskType(ctx context.Context, tt *models.TaskType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.types[tt.Name]; ok {
		return ErrDuplicate
	}
	s.types[tt.Name] = tt.Clone()
	return nil
}

// GetTaskType returns a copy of the named type
func (s *MemoryTaskTypes) GetTaskType(ctx context.Context, name string) (*models.TaskType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tt, ok := s.types[name]
	if !ok {
		return nil, ErrNotFound
	}
	return tt.Clone(), nil
}

// ListTaskTypes returns copies of every type ordered by name
func (s *MemoryTaskTypes) ListTaskTypes(ctx context.Context) ([]*models.TaskType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.TaskType, 0, len(s.types))
	for _, tt := range s.types {
		out = append(out, tt.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteTaskType removes the named type
func (s *MemoryTaskTypes) DeleteTaskType(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.types[name]; !ok {
		return ErrNotFound
	}
	delete(s.types, name)
	return nil
}
