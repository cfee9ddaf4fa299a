// Package api defines the BeaconService gRPC contract: its messages, the
// service descriptor and a client.
package api

import (
	"time"

	"github.com/fleetwatch/beacond/internal/models"
)

// Implant is the wire form of an implant snapshot. Times are Unix seconds.
type Implant struct {
	ImplantId             string `json:"implant_id"`
	Address               string `json:"address"`
	OperatingSystem       string `json:"operating_system"`
	BeaconIntervalSeconds int64  `json:"beacon_interval_seconds"`
	FirstSeen             int64  `json:"first_seen"`
	LastSeen              int64  `json:"last_seen"`
	MissedBeacons         int32  `json:"missed_beacons"`
	Active                bool   `json:"active"`
}

// Task is the wire form of a queued task. DispatchedAt is 0 while pending.
type Task struct {
	Id           string `json:"id"`
	ImplantId    string `json:"implant_id"`
	Payload      string `json:"payload"`
	Sequence     int64  `json:"sequence"`
	Status       string `json:"status"`
	EnqueuedAt   int64  `json:"enqueued_at"`
	DispatchedAt int64  `json:"dispatched_at"`
}

// BeaconRequest is one implant check-in. Absent fields are left nil.
type BeaconRequest struct {
	ImplantId             string  `json:"implant_id"`
	Address               *string `json:"address,omitempty"`
	OperatingSystem       *string `json:"operating_system,omitempty"`
	BeaconIntervalSeconds *int64  `json:"beacon_interval_seconds,omitempty"`
}

type BeaconResponse struct {
	Implant *Implant `json:"implant"`
	Tasks   []*Task  `json:"tasks"`
}

type ListImplantsRequest struct {
	IncludeInactive bool `json:"include_inactive"`
}

type ListImplantsResponse struct {
	Implants []*Implant `json:"implants"`
}

type GetImplantRequest struct {
	ImplantId string `json:"implant_id"`
}

type GetImplantResponse struct {
	Implant *Implant `json:"implant"`
}

type DeleteImplantRequest struct {
	ImplantId string `json:"implant_id"`
}

type DeleteImplantResponse struct{}

// EnqueueTaskRequest queues either an opaque payload or, when Type is set, a
// typed task built from Params. Payload must be empty for typed tasks.
type EnqueueTaskRequest struct {
	ImplantId string            `json:"implant_id"`
	Payload   string            `json:"payload"`
	Type      string            `json:"type,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

type EnqueueTaskResponse struct {
	TaskId string `json:"task_id"`
	Task   *Task  `json:"task"`
}

type GetTaskRequest struct {
	TaskId string `json:"task_id"`
}

type GetTaskResponse struct {
	Task *Task `json:"task"`
}

type ListTasksRequest struct {
	ImplantId         string `json:"implant_id"`
	IncludeDispatched bool   `json:"include_dispatched"`
}

type ListTasksResponse struct {
	Tasks []*Task `json:"tasks"`
}

type CancelTaskRequest struct {
	TaskId string `json:"task_id"`
}

type CancelTaskResponse struct{}

// TaskType is the wire form of a catalog entry
type TaskType struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
}

type CreateTaskTypeRequest struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
}

type CreateTaskTypeResponse struct {
	TaskType *TaskType `json:"task_type"`
}

type ListTaskTypesRequest struct{}

type ListTaskTypesResponse struct {
	TaskTypes []*TaskType `json:"task_types"`
}

type DeleteTaskTypeRequest struct {
	Name string `json:"name"`
}

type DeleteTaskTypeResponse struct{}

// Event converts the request into a beacon event
func (r *BeaconRequest) Event() models.BeaconEvent {
	return models.BeaconEvent{
		ImplantID:             r.ImplantId,
		Address:               r.Address,
		OperatingSystem:       r.OperatingSystem,
		BeaconIntervalSeconds: r.BeaconIntervalSeconds,
	}
}

// NewBeaconRequest creates a request with every field present
func NewBeaconRequest(implantID, address, os string, intervalSeconds int64) *BeaconRequest {
	return &BeaconRequest{
		ImplantId:             implantID,
		Address:               &address,
		OperatingSystem:       &os,
		BeaconIntervalSeconds: &intervalSeconds,
	}
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// FromSnapshot converts an implant snapshot to its wire form
func FromSnapshot(s models.ImplantSnapshot) *Implant {
	return &Implant{
		ImplantId:             s.ImplantID,
		Address:               s.Address,
		OperatingSystem:       s.OperatingSystem,
		BeaconIntervalSeconds: s.BeaconIntervalSeconds,
		FirstSeen:             unix(s.FirstSeenAt),
		LastSeen:              unix(s.LastSeenAt),
		MissedBeacons:         int32(s.MissedBeacons),
		Active:                s.Active,
	}
}

// FromTask converts a task to its wire form
func FromTask(t *models.Task) *Task {
	return &Task{
		Id:           t.ID,
		ImplantId:    t.ImplantID,
		Payload:      t.Payload,
		Sequence:     t.Sequence,
		Status:       string(t.Status),
		EnqueuedAt:   unix(t.EnqueuedAt),
		DispatchedAt: unix(t.DispatchedAt),
	}
}

// FromTasks converts tasks to their wire form, never returning nil
func FromTasks(tasks []*models.Task) []*Task {
	out := make([]*Task, len(tasks))
	for i, t := range tasks {
		out[i] = FromTask(t)
	}
	return out
}

// FromTaskType converts a catalog entry to its wire form
func FromTaskType(tt *models.TaskType) *TaskType {
	params := tt.Params
	if params == nil {
		params = []string{}
	}
	return &TaskType{Name: tt.Name, Params: params}
}

// FromTaskTypes converts catalog entries to their wire form, never returning nil
func FromTaskTypes(types []*models.TaskType) []*TaskType {
	out := make([]*TaskType, len(types))
	for i, tt := range types {
		out[i] = FromTaskType(tt)
	}
	return out
}
