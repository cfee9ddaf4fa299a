package models

import (
	"time"
)

// Task represents one unit of opaque work queued for a single implant
type Task struct {
	ID           string         `json:"id"`
	ImplantID    string         `json:"implant_id"`
	Payload      string         `json:"payload"`
	Sequence     int64          `json:"sequence"` // Assigned by the backend on enqueue
	EnqueuedAt   time.Time      `json:"enqueued_at"`
	DispatchedAt time.Time      `json:"dispatched_at"` // Zero time means not yet dispatched
	Status       TaskStatusEnum `json:"status"`
}

// NewTask creates a new pending task instance
func NewTask(id, implantID, payload string, enqueuedAt time.Time) *Task {
	return &Task{
		ID:           id,
		ImplantID:    implantID,
		Payload:      payload,
		EnqueuedAt:   enqueuedAt,
		DispatchedAt: time.Time{},
		Status:       TaskStatusPending,
	}
}

// Clone returns a copy that shares no state with the receiver
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// TaskStatusEnum defines the possible statuses for a task
type TaskStatusEnum string

const (
	TaskStatusPending    TaskStatusEnum = "pending"
	TaskStatusDispatched TaskStatusEnum = "dispatched"
)

// TaskBatch is the work handed to an implant in response to one beacon
type TaskBatch struct {
	ImplantID string          `json:"implant_id"`
	Implant   ImplantSnapshot `json:"implant"`
	Tasks     []*Task         `json:"tasks"`
}

// Payloads returns the task payloads in dispatch order
func (b *TaskBatch) Payloads() []string {
	out := make([]string, len(b.Tasks))
	for i, t := range b.Tasks {
		out[i] = t.Payload
	}
	return out
}
