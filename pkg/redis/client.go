package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Nil is returned by reads of a missing key
var Nil = redis.Nil

// ErrTxConflict is returned when a watched key kept changing underneath an update
var ErrTxConflict = errors.New("redis: watched key changed, transaction aborted")

const (
	implantIndexKey = "implants"
	taskSeqKey      = "tasks:seq"
	eventLogKey     = "events:log"
	taskTypesKey    = "tasktypes"

	maxTxRetries = 8
)

// Client wraps the Redis client with convenience methods
type Client struct {
	client *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr string) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	return &Client{
		client: rdb,
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks if the Redis connection is alive
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func implantKey(implantID string) string {
	return fmt.Sprintf("implant:%s", implantID)
}

func taskKey(taskID string) string {
	return fmt.Sprintf("task:%s", taskID)
}

func pendingKey(implantID string) string {
	return fmt.Sprintf("tasks:pending:%s", implantID)
}

func dispatchedKey(implantID string) string {
	return fmt.Sprintf("tasks:dispatched:%s", implantID)
}

// GetImplant retrieves an implant from Redis
func (c *Client) GetImplant(ctx context.Context, implantID string) ([]byte, error) {
	return c.client.Get(ctx, implantKey(implantID)).Bytes()
}

// UpdateImplant runs fn inside an optimistic WATCH/MULTI transaction on the
// implant key. fn receives the current encoding (nil when absent) and
// returns the new encoding, or nil to leave the key untouched.
func (c *Client) UpdateImplant(ctx context.Context, implantID string, fn func(current []byte) ([]byte, error)) error {
	key := implantKey(implantID)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == redis.Nil {
			current = nil
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			pipe.SAdd(ctx, implantIndexKey, implantID)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := c.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return ErrTxConflict
}

// GetAllImplants retrieves all implants from Redis
func (c *Client) GetAllImplants(ctx context.Context) (map[string][]byte, error) {
	ids, err := c.client.SMembers(ctx, implantIndexKey).Result()
	if err != nil {
		return nil, err
	}

	implants := make(map[string][]byte, len(ids))
	if len(ids) == 0 {
		return implants, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = implantKey(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		implants[ids[i]] = []byte(s)
	}

	return implants, nil
}

// DeleteImplant removes an implant and reports whether it existed
func (c *Client) DeleteImplant(ctx context.Context, implantID string) (bool, error) {
	var del *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, implantKey(implantID))
		pipe.SRem(ctx, implantIndexKey, implantID)
		return nil
	})
	if err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

// NextTaskSequence allocates the next global task sequence number
func (c *Client) NextTaskSequence(ctx context.Context) (int64, error) {
	return c.client.Incr(ctx, taskSeqKey).Result()
}

// EnqueueTask stores a task and appends it to the implant's pending queue
func (c *Client) EnqueueTask(ctx context.Context, implantID, taskID string, sequence int64, task interface{}) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(taskID), data, 0)
		// Score by sequence so ZPOPMIN yields enqueue order
		pipe.ZAdd(ctx, pendingKey(implantID), &redis.Z{
			Score:  float64(sequence),
			Member: taskID,
		})
		return nil
	})
	return err
}

// DispatchFunc rewrites one pending task body into its dispatched form.
// An error aborts the whole drain and leaves every task pending.
type DispatchFunc func(taskID string, data []byte) ([]byte, error)

// DispatchPending moves up to count of the oldest pending tasks for the
// implant onto its dispatched set in one WATCH/MULTI transaction and returns
// the dispatched task ids in enqueue order. Nothing leaves the pending set
// unless the whole batch commits. Pending ids whose task body is gone are
// dropped from the queue in the same transaction.
func (c *Client) DispatchPending(ctx context.Context, implantID string, count int64, fn DispatchFunc) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	pending := pendingKey(implantID)

	var out []string
	txf := func(tx *redis.Tx) error {
		out = nil
		head, err := tx.ZRangeWithScores(ctx, pending, 0, count-1).Result()
		if err != nil {
			return err
		}
		if len(head) == 0 {
			return nil
		}

		var orphans []interface{}
		sent := make([]*redis.Z, 0, len(head))
		bodies := make([][]byte, 0, len(head))
		for _, z := range head {
			id, ok := z.Member.(string)
			if !ok {
				continue
			}
			data, err := tx.Get(ctx, taskKey(id)).Bytes()
			if err == redis.Nil {
				orphans = append(orphans, id)
				continue
			}
			if err != nil {
				return err
			}
			next, err := fn(id, data)
			if err != nil {
				return fmt.Errorf("dispatch task %s: %w", id, err)
			}
			sent = append(sent, &redis.Z{Score: z.Score, Member: id})
			bodies = append(bodies, next)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(orphans) > 0 {
				pipe.ZRem(ctx, pending, orphans...)
			}
			for i, z := range sent {
				pipe.ZRem(ctx, pending, z.Member)
				pipe.Set(ctx, taskKey(z.Member.(string)), bodies[i], 0)
				pipe.ZAdd(ctx, dispatchedKey(implantID), z)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = make([]string, 0, len(sent))
		for _, z := range sent {
			out = append(out, z.Member.(string))
		}
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := c.client.Watch(ctx, txf, pending)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, ErrTxConflict
}

// GetTask retrieves a task from Redis
func (c *Client) GetTask(ctx context.Context, taskID string) ([]byte, error) {
	return c.client.Get(ctx, taskKey(taskID)).Bytes()
}

// GetTasksByImplant retrieves the implant's pending tasks, and optionally
// its dispatched ones, keyed by task id
func (c *Client) GetTasksByImplant(ctx context.Context, implantID string, includeDispatched bool) (map[string][]byte, error) {
	ids, err := c.client.ZRange(ctx, pendingKey(implantID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if includeDispatched {
		sent, err := c.client.ZRange(ctx, dispatchedKey(implantID), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		ids = append(ids, sent...)
	}

	tasks := make(map[string][]byte, len(ids))
	for _, id := range ids {
		data, err := c.client.Get(ctx, taskKey(id)).Bytes()
		if err != nil {
			continue
		}
		tasks[id] = data
	}

	return tasks, nil
}

// RemovePendingTask removes a task from the pending queue and deletes it.
// It reports false when the task was no longer pending.
func (c *Client) RemovePendingTask(ctx context.Context, implantID, taskID string) (bool, error) {
	removed, err := c.client.ZRem(ctx, pendingKey(implantID), taskID).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}
	return true, c.client.Del(ctx, taskKey(taskID)).Err()
}

// CreateTaskType stores a task type body under name. It reports false,
// writing nothing, when the name is already taken.
func (c *Client) CreateTaskType(ctx context.Context, name string, taskType interface{}) (bool, error) {
	data, err := json.Marshal(taskType)
	if err != nil {
		return false, err
	}
	return c.client.HSetNX(ctx, taskTypesKey, name, data).Result()
}

// GetTaskType retrieves a task type body by name
func (c *Client) GetTaskType(ctx context.Context, name string) ([]byte, error) {
	return c.client.HGet(ctx, taskTypesKey, name).Bytes()
}

// GetTaskTypes retrieves every task type body keyed by name
func (c *Client) GetTaskTypes(ctx context.Context) (map[string]string, error) {
	return c.client.HGetAll(ctx, taskTypesKey).Result()
}

// DeleteTaskType removes a task type, reporting whether it existed
func (c *Client) DeleteTaskType(ctx context.Context, name string) (bool, error) {
	n, err := c.client.HDel(ctx, taskTypesKey, name).Result()
	return n > 0, err
}

// LogEvent logs an event to a Redis list for durable event logging
func (c *Client) LogEvent(ctx context.Context, eventType, message string, metadata map[string]interface{}) error {
	event := map[string]interface{}{
		"type":      eventType,
		"message":   message,
		"metadata":  metadata,
		"timestamp": time.Now().Unix(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// Push to a Redis list for durable event logging
	return c.client.LPush(ctx, eventLogKey, data).Err()
}

// GetEvents retrieves recent events from the event log
func (c *Client) GetEvents(ctx context.Context, limit int64) ([][]byte, error) {
	strings, err := c.client.LRange(ctx, eventLogKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	// Convert []string to [][]byte
	events := make([][]byte, len(strings))
	for i, s := range strings {
		events[i] = []byte(s)
	}

	return events, nil
}
