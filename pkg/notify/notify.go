// Package notify defines the notification records emitted on tunnel and
// route state transitions and the sink they are delivered to. Delivery
// is fire-and-forget: sink failures are logged, never propagated into
// the orchestration path.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// Notification is one user-visible event record.
type Notification struct {
	ID       string    `json:"_id"`
	Org      string    `json:"org"`
	Title    string    `json:"title"`
	Time     time.Time `json:"time"`
	DeviceID string    `json:"deviceId,omitempty"`
	Details  string    `json:"details"`
}

// New creates a notification stamped with the current time.
func New(org, title, deviceID, details string) Notification {
	return Notification{
		ID:       uuid.NewString(),
		Org:      org,
		Title:    title,
		Time:     time.Now(),
		DeviceID: deviceID,
		Details:  details,
	}
}

// Sink receives notification batches.
type Sink interface {
	SendNotifications(notifications []Notification)
}

// Send delivers a batch to the sink, tolerating a nil sink.
func Send(sink Sink, notifications []Notification) {
	if sink == nil || len(notifications) == 0 {
		return
	}
	sink.SendNotifications(notifications)
}

// LogSink writes notifications to the manager log. It is the default
// sink when no external delivery channel is configured.
type LogSink struct{}

// SendNotifications logs each notification.
func (LogSink) SendNotifications(notifications []Notification) {
	for _, n := range notifications {
		util.WithFields(map[string]interface{}{
			"org":    n.Org,
			"device": n.DeviceID,
		}).Infof("notification: %s - %s", n.Title, n.Details)
	}
}

// MemSink collects notifications in memory. Tests use it to assert on
// emission counts and contents.
type MemSink struct {
	mu   sync.Mutex
	sent []Notification
}

// SendNotifications appends the batch.
func (m *MemSink) SendNotifications(notifications []Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notifications...)
}

// Sent returns a copy of everything delivered so far.
func (m *MemSink) Sent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.sent))
	copy(out, m.sent)
	return out
}

// Reset clears the collected notifications.
func (m *MemSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
