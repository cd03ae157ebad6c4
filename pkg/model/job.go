package model

import "time"

// Task is one agent-directed instruction inside a job. Params is a
// typed parameter struct (see pkg/modify and pkg/tunnel builders); it is
// JSON-marshaled verbatim onto the wire.
type Task struct {
	Entity  string      `json:"entity"`
	Message string      `json:"message"`
	Params  interface{} `json:"params,omitempty"`
}

// CallbackMeta is the response-routing metadata attached to a job at
// submission time. Method selects the complete/error/remove handler set;
// Data carries the handler's context (device id, tunnel ids, snapshot
// keys).
type CallbackMeta struct {
	Method string            `json:"method"`
	Data   map[string]string `json:"data,omitempty"`
}

// JobState is the lifecycle state of a dispatched job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobRemoved   JobState = "removed"
)

// Job is an ordered task list addressed to one device's queue. Jobs for
// the two sides of a tunnel are independent and may complete out of
// order; each side's task list is self-contained.
type Job struct {
	ID        string       `json:"_id"`
	Org       string       `json:"org"`
	User      string       `json:"user,omitempty"`
	DeviceID  string       `json:"deviceId"`
	Title     string       `json:"title"`
	Tasks     []Task       `json:"tasks"`
	Meta      CallbackMeta `json:"meta"`
	State     JobState     `json:"state"`
	CreatedAt time.Time    `json:"createdAt"`
}
