package access

import (
	"fmt"
	"time"
)

// ResourceKind is the type of entity a grant applies to
type ResourceKind string

const (
	KindGroup  ResourceKind = "group"
	KindSurvey ResourceKind = "survey"
)

// ParseResourceKind parses "group" or "survey"
func ParseResourceKind(s string) (ResourceKind, error) {
	switch ResourceKind(s) {
	case KindGroup, KindSurvey:
		return ResourceKind(s), nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidResource, s)
}

// Resource identifies a group or a survey
type Resource struct {
	Kind ResourceKind `json:"kind"`
	ID   int64        `json:"id"`
}

// Group returns the resource for group id
func Group(id int64) Resource { return Resource{Kind: KindGroup, ID: id} }

// Survey returns the resource for survey id
func Survey(id int64) Resource { return Resource{Kind: KindSurvey, ID: id} }

// Validate checks the kind and id
func (r Resource) Validate() error {
	if r.Kind != KindGroup && r.Kind != KindSurvey {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidResource, r.Kind)
	}
	if r.ID <= 0 {
		return fmt.Errorf("%w: invalid id %d", ErrInvalidResource, r.ID)
	}
	return nil
}

func (r Resource) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Subject is an admin account that can hold grants
type Subject struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	SuperAdmin bool   `json:"super_admin"`
}

// Grant gives a subject a level on one resource. There is at most one grant
// per (subject, resource).
type Grant struct {
	SubjectID int64     `json:"subject_id"`
	Email     string    `json:"email,omitempty"`
	Resource  Resource  `json:"resource"`
	Level     Level     `json:"level"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
