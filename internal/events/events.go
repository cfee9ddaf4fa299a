// Package events fans fleet changes out to operator consoles.
package events

import (
	"time"
)

// EntityType names the kind of record an event is about
type EntityType string

const (
	EntityImplant EntityType = "IMPLANTS"
	EntityTask    EntityType = "TASKS"
)

// EventType names what happened to the entity
type EventType string

const (
	EventCreate     EventType = "CREATE"
	EventEdit       EventType = "EDIT"
	EventDelete     EventType = "DELETE"
	EventInactive   EventType = "INACTIVE"
	EventDispatched EventType = "DISPATCHED"
)

// Event is one fleet change
type Event struct {
	EntityType EntityType  `json:"entityType"`
	EventType  EventType   `json:"eventType"`
	EntityID   string      `json:"entityId"`
	Entity     interface{} `json:"entity"`
	At         time.Time   `json:"at"`
}

// Publisher accepts events without blocking the caller
type Publisher interface {
	Publish(Event)
}

// Discard drops every event
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Multi publishes to every non-nil publisher in order
func Multi(publishers ...Publisher) Publisher {
	out := make(multi, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

type multi []Publisher

func (m multi) Publish(ev Event) {
	for _, p := range m {
		p.Publish(ev)
	}
}

// Recorder keeps every published event in memory; used by tests
type Recorder struct {
	ch chan Event
}

// NewRecorder creates a recorder that buffers up to size events
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

// Publish records ev, dropping it if the buffer is full
func (r *Recorder) Publish(ev Event) {
	select {
	case r.ch <- ev:
	default:
	}
}

// Drain returns every event recorded so far
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-r.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}
