package allocation

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an allocation does not exist
	ErrNotFound = errors.New("allocation: not found")

	// ErrRunInProgress is returned by RunOnce while another run is in flight
	ErrRunInProgress = errors.New("allocation: push run already in progress")
)

// Store reads allocations, clients and answers, and records pushes
type Store interface {
	// ListDue returns at most limit allocations for which Due holds at now, ordered by id
	ListDue(ctx context.Context, now time.Time, throttle time.Duration, limit int) ([]Allocation, error)

	// ListPushableClients returns the clients of a group that have a push token
	ListPushableClients(ctx context.Context, groupID int64) ([]Client, error)

	// ListAnswers returns the answers recorded for an allocation
	ListAnswers(ctx context.Context, allocationID int64) ([]Answer, error)

	// MarkPushed sets pushed_at of an allocation
	MarkPushed(ctx context.Context, allocationID int64, at time.Time) error
}
