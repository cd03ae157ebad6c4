// Package audit provides audit logging for orchestration requests.
package audit

import (
	"fmt"
	"time"
)

// Event represents one auditable orchestration request.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Org       string        `json:"org"`
	User      string        `json:"user"`
	Operation string        `json:"operation"`
	Device    string        `json:"device,omitempty"`
	TunnelID  string        `json:"tunnelId,omitempty"`
	JobIDs    []string      `json:"jobIds,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Filter defines criteria for querying audit events
type Filter struct {
	Org         string
	User        string
	Operation   string
	Device      string
	TunnelID    string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event
func NewEvent(org, user, operation string) *Event {
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now(),
		Org:       org,
		User:      user,
		Operation: operation,
	}
}

// WithDevice sets the device id
func (e *Event) WithDevice(device string) *Event {
	e.Device = device
	return e
}

// WithTunnel sets the tunnel id
func (e *Event) WithTunnel(tunnelID string) *Event {
	e.TunnelID = tunnelID
	return e
}

// WithJobs records the ids of the jobs the request queued
func (e *Event) WithJobs(jobIDs ...string) *Event {
	e.JobIDs = append(e.JobIDs, jobIDs...)
	return e
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
