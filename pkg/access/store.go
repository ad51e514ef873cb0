package access

import "context"

// Store persists subjects and grants.
//
// DeleteGrant and UpdateGrantLevel enforce the owner invariant atomically:
// DeleteGrant fails with ErrLastOwner unless another subject holds an owner
// grant on the same resource, and UpdateGrantLevel fails with ErrLastOwner when
// it would downgrade the only owner.
type Store interface {
	// GetGrant returns the grant of subjectID on res, or ErrNotFound
	GetGrant(ctx context.Context, subjectID int64, res Resource) (*Grant, error)

	// ListGrants returns every grant on res ordered by subject id
	ListGrants(ctx context.Context, res Resource) ([]Grant, error)

	// CreateGrant inserts a new grant
	CreateGrant(ctx context.Context, grant *Grant) error

	// UpdateGrantLevel changes the level of an existing grant
	UpdateGrantLevel(ctx context.Context, subjectID int64, res Resource, level Level) error

	// DeleteGrant removes a grant
	DeleteGrant(ctx context.Context, subjectID int64, res Resource) error

	// FindSubjectByEmail resolves an admin email, or ErrNotFound
	FindSubjectByEmail(ctx context.Context, email string) (*Subject, error)
}

// otherOwnerExists reports whether anyone but subjectID owns the resource
func otherOwnerExists(grants []Grant, subjectID int64) bool {
	for _, g := range grants {
		if g.SubjectID != subjectID && g.Level == LevelOwner {
			return true
		}
	}
	return false
}
