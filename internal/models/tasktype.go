package models

// TaskType is a named kind of task with a fixed set of parameter names.
// Typed tasks carry a TypedPayload whose params match Params exactly.
type TaskType struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
}

// Clone returns a copy that shares no state with the receiver
func (t *TaskType) Clone() *TaskType {
	if t == nil {
		return nil
	}
	c := *t
	c.Params = append([]string{}, t.Params...)
	return &c
}

// TypedPayload is the payload body of a task created from a TaskType
type TypedPayload struct {
	Type   string            `json:"type"`
	Params map[string]string `json:"params"`
}
