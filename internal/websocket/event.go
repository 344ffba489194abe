// Package websocket pushes download progress and status events to
// connected clients in real time.
package websocket

import (
	"encoding/json"
	"time"

	"github.com/drover-project/drover/internal/progress"
)

// EventType represents the type of pushed event
type EventType string

const (
	EventTypeHeartbeat        EventType = "heartbeat"
	EventTypeDownloadProgress EventType = "download_progress"
	EventTypeDownloadComplete EventType = "download_complete"
	EventTypeDownloadError    EventType = "download_error"
	EventTypeStatusChange     EventType = "status_change"
)

// Event is one pushed message.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`

	Model   string `json:"model,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`

	// Progress carries the full tracker snapshot for download events.
	Progress *progress.State `json:"progress,omitempty"`

	Connections int `json:"connections,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent(connections int) *Event {
	e := NewEvent(EventTypeHeartbeat)
	e.Connections = connections
	return e
}

// NewProgressEvent wraps a tracker snapshot in a progress event.
func NewProgressEvent(snapshot progress.State) *Event {
	e := NewEvent(EventTypeDownloadProgress)
	e.Model = snapshot.Model
	e.Status = snapshot.Status
	e.Progress = &snapshot
	return e
}

// NewCompletionEvent signals a finished download.
func NewCompletionEvent(model string) *Event {
	e := NewEvent(EventTypeDownloadComplete)
	e.Model = model
	e.Message = "Download completed successfully"
	return e
}

// NewErrorEvent signals a failed download.
func NewErrorEvent(model, message string) *Event {
	e := NewEvent(EventTypeDownloadError)
	e.Model = model
	e.Message = message
	return e
}

// String returns the JSON encoding of the event.
func (e *Event) String() string {
	data, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(data)
}
