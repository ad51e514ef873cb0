package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fieldnote/fieldnote/pkg/contextkeys"
)

// EventType represents the kind of grant change
type EventType string

const (
	EventTypeGrantCreate EventType = "grant.create"
	EventTypeGrantUpdate EventType = "grant.update"
	EventTypeGrantRemove EventType = "grant.remove"
)

// Event is one recorded grant change
type Event struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`

	AdminID int64  `json:"admin_id"`
	Email   string `json:"email,omitempty"`

	ResourceKind string `json:"resource_kind"`
	ResourceID   int64  `json:"resource_id"`

	// Levels are empty when there was no grant before or after the change
	PreviousLevel string `json:"previous_level,omitempty"`
	Level         string `json:"level,omitempty"`

	RequestID string                 `json:"request_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent returns an event stamped with the current time and the request id
// found in ctx
func NewEvent(ctx context.Context, eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		RequestID: contextkeys.GetRequestID(ctx),
	}
}

// ToJSON converts the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
