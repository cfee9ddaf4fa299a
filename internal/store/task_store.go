package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/fleetwatch/beacond/internal/models"
	"github.com/fleetwatch/beacond/pkg/redis"
)

// RedisTasks manages task persistence in Redis
type RedisTasks struct {
	redis *redis.Client
}

// NewRedisTasks creates a new Redis-backed task store
func NewRedisTasks(redis *redis.Client) *RedisTasks {
	return &RedisTasks{
		redis: redis,
	}
}

// AppendTask stores the task at the tail of its implant's pending queue
func (s *RedisTasks) AppendTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	seq, err := s.redis.NextTaskSequence(ctx)
	if err != nil {
		return nil, err
	}

	t := task.Clone()
	t.Sequence = seq
	if err := s.redis.EnqueueTask(ctx, t.ImplantID, t.ID, seq, t); err != nil {
		return nil, err
	}
	return t, nil
}

// PopPending moves up to max of the oldest pending tasks to dispatched in a
// single Redis transaction. A failure leaves every task pending.
func (s *RedisTasks) PopPending(ctx context.Context, implantID string, max int, dispatchedAt time.Time) ([]*models.Task, error) {
	tasks := []*models.Task{}
	if max <= 0 {
		return tasks, nil
	}

	// fn may run again when the transaction retries; the last run wins
	decoded := make(map[string]*models.Task)
	ids, err := s.redis.DispatchPending(ctx, implantID, int64(max), func(taskID string, data []byte) ([]byte, error) {
		var task models.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return nil, err
		}
		dispatch(&task, dispatchedAt)
		decoded[taskID] = &task
		return json.Marshal(&task)
	})
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		tasks = append(tasks, decoded[id])
	}
	return tasks, nil
}

// GetTask retrieves a task from the database
func (s *RedisTasks) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	data, err := s.redis.GetTask(ctx, taskID)
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}

	return &task, nil
}

// ListTasks retrieves an implant's tasks ordered by sequence
func (s *RedisTasks) ListTasks(ctx context.Context, implantID string, includeDispatched bool) ([]*models.Task, error) {
	tasksData, err := s.redis.GetTasksByImplant(ctx, implantID, includeDispatched)
	if err != nil {
		return nil, err
	}

	tasks := make([]*models.Task, 0, len(tasksData))
	for _, data := range tasksData {
		var task models.Task
		if err := json.Unmarshal(data, &task); err != nil {
			continue
		}
		tasks = append(tasks, &task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Sequence < tasks[j].Sequence })

	return tasks, nil
}

// CancelTask removes a task that has not been dispatched yet
func (s *RedisTasks) CancelTask(ctx context.Context, taskID string) error {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	removed, err := s.redis.RemovePendingTask(ctx, task.ImplantID, taskID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrTaskDispatched
	}
	return nil
}

// Ping checks the Redis connection
func (s *RedisTasks) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx)
}
