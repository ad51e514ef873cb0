package access

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type grantKey struct {
	subjectID int64
	res       Resource
}

// MemoryStore is an in-process Store for tests and local runs
type MemoryStore struct {
	mu       sync.Mutex
	subjects map[int64]Subject
	grants   map[grantKey]Grant
	nextID   int64
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects: make(map[int64]Subject),
		grants:   make(map[grantKey]Grant),
	}
}

// AddSubject registers an admin. A zero ID is assigned automatically.
func (s *MemoryStore) AddSubject(subject Subject) Subject {
	s.mu.Lock()
	defer s.mu.Unlock()

	if subject.ID == 0 {
		s.nextID++
		subject.ID = s.nextID
	} else if subject.ID > s.nextID {
		s.nextID = subject.ID
	}
	s.subjects[subject.ID] = subject
	return subject
}

// GetGrant returns the grant of subjectID on res
func (s *MemoryStore) GetGrant(_ context.Context, subjectID int64, res Resource) (*Grant, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[grantKey{subjectID, res}]
	if !ok {
		return nil, fmt.Errorf("grant for admin %d on %s: %w", subjectID, res, ErrNotFound)
	}
	return &g, nil
}

// ListGrants returns the grants on res ordered by subject id
func (s *MemoryStore) ListGrants(_ context.Context, res Resource) ([]Grant, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grantsOn(res), nil
}

// CreateGrant inserts a new grant
func (s *MemoryStore) CreateGrant(_ context.Context, grant *Grant) error {
	if err := grant.Resource.Validate(); err != nil {
		return err
	}
	if !grant.Level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, uint8(grant.Level))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{grant.SubjectID, grant.Resource}
	if _, exists := s.grants[key]; exists {
		return fmt.Errorf("admin %d on %s: %w", grant.SubjectID, grant.Resource, ErrGrantExists)
	}

	now := time.Now()
	grant.CreatedAt = now
	grant.UpdatedAt = now
	if subject, ok := s.subjects[grant.SubjectID]; ok {
		grant.Email = subject.Email
	}
	s.grants[key] = *grant
	return nil
}

// UpdateGrantLevel changes a grant level, refusing to downgrade the only owner
func (s *MemoryStore) UpdateGrantLevel(_ context.Context, subjectID int64, res Resource, level Level) error {
	if err := res.Validate(); err != nil {
		return err
	}
	if !level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, uint8(level))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{subjectID, res}
	g, ok := s.grants[key]
	if !ok {
		return fmt.Errorf("grant for admin %d on %s: %w", subjectID, res, ErrNotFound)
	}
	if g.Level == LevelOwner && level != LevelOwner && !otherOwnerExists(s.grantsOn(res), subjectID) {
		return fmt.Errorf("downgrade admin %d on %s: %w", subjectID, res, ErrLastOwner)
	}

	g.Level = level
	g.UpdatedAt = time.Now()
	s.grants[key] = g
	return nil
}

// DeleteGrant removes a grant if another owner remains
func (s *MemoryStore) DeleteGrant(_ context.Context, subjectID int64, res Resource) error {
	if err := res.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{subjectID, res}
	if _, ok := s.grants[key]; !ok {
		return fmt.Errorf("grant for admin %d on %s: %w", subjectID, res, ErrNotFound)
	}
	if !otherOwnerExists(s.grantsOn(res), subjectID) {
		return fmt.Errorf("remove admin %d from %s: %w", subjectID, res, ErrLastOwner)
	}

	delete(s.grants, key)
	return nil
}

// FindSubjectByEmail resolves an admin by email, case-insensitively
func (s *MemoryStore) FindSubjectByEmail(_ context.Context, email string) (*Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subject := range s.subjects {
		if strings.EqualFold(subject.Email, email) {
			found := subject
			return &found, nil
		}
	}
	return nil, fmt.Errorf("admin %q: %w", email, ErrNotFound)
}

func (s *MemoryStore) grantsOn(res Resource) []Grant {
	var grants []Grant
	for k, g := range s.grants {
		if k.res == res {
			grants = append(grants, g)
		}
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].SubjectID < grants[j].SubjectID })
	return grants
}
