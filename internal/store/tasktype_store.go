package store

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/fleetwatch/beacond/internal/models"
	"github.com/fleetwatch/beacond/pkg/redis"
)

// RedisTaskTypes keeps the task type catalog in a Redis hash
type RedisTaskTypes struct {
	redis *redis.Client
}

// NewRedisTaskTypes creates a Redis-backed task type catalog
func NewRedisTaskTypes(redis *redis.Client) *RedisTaskTypes {
	return &RedisTaskTypes{redis: redis}
}

// CreateTaskType stores tt unless its name is already taken
func (s *RedisTaskTypes) CreateTaskType(ctx context.Context, tt *models.TaskType) error {
	created, err := s.redis.CreateTaskType(ctx, tt.Name, tt)
	if err != nil {
		return err
	}
	if !created {
		return ErrDuplicate
	}
	return nil
}

// GetTaskType retrieves a task type by name
func (s *RedisTaskTypes) GetTaskType(ctx context.Context, name string) (*models.TaskType, error) {
	data, err := s.redis.GetTaskType(ctx, name)
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var tt models.TaskType
	if err := json.Unmarshal(data, &tt); err != nil {
		return nil, err
	}
	return &tt, nil
}

// ListTaskTypes retrieves every task type ordered by name
func (s *RedisTaskTypes) ListTaskTypes(ctx context.Context) ([]*models.TaskType, error) {
	all, err := s.redis.GetTaskTypes(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.TaskType, 0, len(all))
	for _, data := range all {
		var tt models.TaskType
		if err := json.Unmarshal([]byte(data), &tt); err != nil {
			continue
		}
		out = append(out, &tt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteTaskType removes a task type by name
func (s *RedisTaskTypes) DeleteTaskType(ctx context.Context, name string) error {
	removed, err := s.redis.DeleteTaskType(ctx, name)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}
