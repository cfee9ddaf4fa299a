package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsToSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	at := time.Unix(100, 0).UTC()
	hub.Publish(Event{
		EntityType: EntityImplant,
		EventType:  EventCreate,
		EntityID:   "A1",
		Entity:     map[string]string{"address": "10.0.0.5"},
		At:         at,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got struct {
		EntityType string            `json:"entityType"`
		EventType  string            `json:"eventType"`
		EntityID   string            `json:"entityId"`
		Entity     map[string]string `json:"entity"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.EntityType != "IMPLANTS" || got.EventType != "CREATE" || got.EntityID != "A1" || got.Entity["address"] != "10.0.0.5" {
		t.Fatalf("unexpected event: %s", data)
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestMultiSkipsNil(t *testing.T) {
	a := NewRecorder(4)
	b := NewRecorder(4)
	p := Multi(a, nil, b)
	p.Publish(Event{EntityID: "x"})

	if len(a.Drain()) != 1 || len(b.Drain()) != 1 {
		t.Fatal("Multi did not deliver to every publisher")
	}
}
