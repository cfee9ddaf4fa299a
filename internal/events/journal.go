package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/fleetwatch/beacond/pkg/redis"
)

// Journal appends every event to the Redis event log from a background
// writer, so publishers never wait on Redis.
type Journal struct {
	redis   *redis.Client
	timeout time.Duration
	queue   chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewJournal creates a journal writing through the given Redis client and starts its writer
func NewJournal(redis *redis.Client, timeout time.Duration) *Journal {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	j := &Journal{
		redis:   redis,
		timeout: timeout,
		queue:   make(chan Event, 256),
		done:    make(chan struct{}),
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Publish queues ev for the journal, dropping it if the writer is behind
func (j *Journal) Publish(ev Event) {
	select {
	case <-j.done:
	case j.queue <- ev:
	default:
		log.Printf("Events: journal queue full, dropping %s/%s", ev.EntityType, ev.EventType)
	}
}

// Close stops the writer after flushing what is already queued
func (j *Journal) Close() {
	j.once.Do(func() {
		close(j.done)
		j.wg.Wait()
	})
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case ev := <-j.queue:
			j.write(ev)
		case <-j.done:
			for {
				select {
				case ev := <-j.queue:
					j.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	entity, err := json.Marshal(ev.Entity)
	if err != nil {
		log.Printf("Events: journal encode failed: %v", err)
		return
	}

	metadata := map[string]interface{}{
		"entity_type": string(ev.EntityType),
		"entity_id":   ev.EntityID,
		"entity":      json.RawMessage(entity),
		"at":          ev.At.Unix(),
	}
	if err := j.redis.LogEvent(ctx, string(ev.EventType), string(ev.EntityType)+" "+ev.EntityID, metadata); err != nil {
		log.Printf("Events: journal write failed: %v", err)
	}
}

// Recent returns up to limit of the most recent journal entries, newest first
func (j *Journal) Recent(ctx context.Context, limit int64) ([]json.RawMessage, error) {
	raw, err := j.redis.GetEvents(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(raw))
	for i, r := range raw {
		out[i] = json.RawMessage(r)
	}
	return out, nil
}
