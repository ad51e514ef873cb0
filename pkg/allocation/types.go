package allocation

import (
	"fmt"
	"time"
)

// Type is how an allocation is delivered
type Type string

const (
	// TypeOneOff allocations are pushed to participants
	TypeOneOff Type = "oneoff"
	// TypeInitial allocations are answered at enrolment and never pushed
	TypeInitial Type = "initial"
)

// ParseType parses "oneoff" or "initial"
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeOneOff, TypeInitial:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown allocation type %q", s)
}

// Allocation assigns a survey to a group, with optional open, close and due
// times. PushedAt records the last reminder and is only written by the Poller.
// CreatorID is nil once the creating admin has been deleted.
type Allocation struct {
	ID         int64      `json:"id"`
	Type       Type       `json:"type"`
	OpenAt     *time.Time `json:"open_at,omitempty"`
	CloseAt    *time.Time `json:"close_at,omitempty"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	PushedAt   *time.Time `json:"pushed_at,omitempty"`
	GroupID    int64      `json:"group_id"`
	SurveyID   int64      `json:"survey_id"`
	CreatorID  *int64     `json:"creator_id,omitempty"`
	SurveyName string     `json:"survey_name,omitempty"`
}

// Client is a participant. Clients without a push token never receive notifications.
type Client struct {
	ID        int64   `json:"id"`
	GroupID   int64   `json:"group_id"`
	PushToken *string `json:"push_token,omitempty"`
}

// Answer is a client's response to one allocation
type Answer struct {
	ClientID     int64                  `json:"client_id"`
	AllocationID int64                  `json:"allocation_id"`
	Complete     bool                   `json:"complete"`
	Answers      map[string]interface{} `json:"answers,omitempty"`
}
