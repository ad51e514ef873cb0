package allocation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs
type MemoryStore struct {
	mu          sync.Mutex
	allocations map[int64]Allocation
	clients     map[int64]Client
	answers     map[int64][]Answer
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		allocations: make(map[int64]Allocation),
		clients:     make(map[int64]Client),
		answers:     make(map[int64][]Answer),
	}
}

// PutAllocation inserts or replaces an allocation
func (s *MemoryStore) PutAllocation(a Allocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocations[a.ID] = a
}

// PutClient inserts or replaces a client
func (s *MemoryStore) PutClient(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
}

// PutAnswer records an answer, replacing an earlier one from the same client
func (s *MemoryStore) PutAnswer(ans Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.answers[ans.AllocationID]
	for i := range list {
		if list[i].ClientID == ans.ClientID {
			list[i] = ans
			return
		}
	}
	s.answers[ans.AllocationID] = append(list, ans)
}

// Allocation returns a copy of the stored allocation
func (s *MemoryStore) Allocation(id int64) (Allocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.allocations[id]
	return a, ok
}

// ListDue returns the allocations due at now
func (s *MemoryStore) ListDue(_ context.Context, now time.Time, throttle time.Duration, limit int) ([]Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Allocation
	for _, a := range s.allocations {
		if Due(a, now, throttle) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListPushableClients returns the clients of groupID with a push token
func (s *MemoryStore) ListPushableClients(_ context.Context, groupID int64) ([]Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var clients []Client
	for _, c := range s.clients {
		if c.GroupID == groupID && c.PushToken != nil {
			clients = append(clients, c)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients, nil
}

// ListAnswers returns the answers for allocationID
func (s *MemoryStore) ListAnswers(_ context.Context, allocationID int64) ([]Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Answer(nil), s.answers[allocationID]...), nil
}

// MarkPushed sets PushedAt
func (s *MemoryStore) MarkPushed(_ context.Context, allocationID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.allocations[allocationID]
	if !ok {
		return fmt.Errorf("allocation %d: %w", allocationID, ErrNotFound)
	}
	a.PushedAt = &at
	s.allocations[allocationID] = a
	return nil
}
