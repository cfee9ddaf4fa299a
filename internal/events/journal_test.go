package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/fleetwatch/beacond/pkg/redis"
)

func TestJournalRecordsEvents(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(addr)
	defer client.Close()
	if err := client.Ping(context.Background()); err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}

	j := NewJournal(client, time.Second)
	id := "journal-" + time.Now().Format("150405.000000000")
	j.Publish(Event{
		EntityType: EntityImplant,
		EventType:  EventCreate,
		EntityID:   id,
		Entity:     map[string]string{"implant_id": id},
		At:         time.Now(),
	})
	// Close flushes queued events
	j.Close()

	recent, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	for _, raw := range recent {
		var entry struct {
			Type     string                 `json:"type"`
			Metadata map[string]interface{} `json:"metadata"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if entry.Metadata["entity_id"] == id {
			if entry.Type != string(EventCreate) {
				t.Fatalf("type = %s, want %s", entry.Type, EventCreate)
			}
			return
		}
	}
	t.Fatalf("event for %s not found in %d recent entries", id, len(recent))
}

func TestJournalPublishAfterClose(t *testing.T) {
	j := NewJournal(redis.NewClient("127.0.0.1:1"), 10*time.Millisecond)
	j.Close()
	// Must not block or panic
	j.Publish(Event{EntityType: EntityTask, EventType: EventDelete, EntityID: "t1"})
	j.Close()
}
