package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/fleetwatch/beacond/internal/models"
	"github.com/fleetwatch/beacond/pkg/redis"
)

// RedisImplants manages implant persistence in Redis
type RedisImplants struct {
	redis *redis.Client
}

// NewRedisImplants creates a new Redis-backed implant store
func NewRedisImplants(redis *redis.Client) *RedisImplants {
	return &RedisImplants{
		redis: redis,
	}
}

// GetImplant retrieves an implant from the database
func (s *RedisImplants) GetImplant(ctx context.Context, implantID string) (*models.Implant, error) {
	data, err := s.redis.GetImplant(ctx, implantID)
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var implant models.Implant
	if err := json.Unmarshal(data, &implant); err != nil {
		return nil, err
	}

	return &implant, nil
}

// UpdateImplant applies fn inside a WATCH/MULTI transaction on the implant key
func (s *RedisImplants) UpdateImplant(ctx context.Context, implantID string, fn UpdateFunc) (*models.Implant, error) {
	var result *models.Implant
	err := s.redis.UpdateImplant(ctx, implantID, func(current []byte) ([]byte, error) {
		var cur *models.Implant
		if current != nil {
			cur = &models.Implant{}
			if err := json.Unmarshal(current, cur); err != nil {
				return nil, err
			}
		}

		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if next == nil {
			result = cur
			return nil, nil
		}
		result = next
		return json.Marshal(next)
	})
	if errors.Is(err, redis.ErrTxConflict) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListImplants retrieves all implants from the database
func (s *RedisImplants) ListImplants(ctx context.Context) ([]*models.Implant, error) {
	implantsData, err := s.redis.GetAllImplants(ctx)
	if err != nil {
		return nil, err
	}

	implants := make([]*models.Implant, 0, len(implantsData))
	for _, data := range implantsData {
		var implant models.Implant
		if err := json.Unmarshal(data, &implant); err != nil {
			continue
		}
		implants = append(implants, &implant)
	}
	sort.Slice(implants, func(i, j int) bool { return implants[i].ImplantID < implants[j].ImplantID })

	return implants, nil
}

// DeleteImplant removes an implant from the database
func (s *RedisImplants) DeleteImplant(ctx context.Context, implantID string) error {
	existed, err := s.redis.DeleteImplant(ctx, implantID)
	if err != nil {
		return err
	}
	if !existed {
		return ErrNotFound
	}
	return nil
}

// Ping checks the Redis connection
func (s *RedisImplants) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx)
}
