package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrGrantExists is returned by CreateGrant when the (subject, resource) pair already has a grant.
var ErrGrantExists = errors.New("access: grant already exists")

// uniqueViolation is the Postgres SQLSTATE for unique constraint violations
const uniqueViolation = "23505"

type permissionTable struct {
	table  string
	column string
}

var permissionTables = map[ResourceKind]permissionTable{
	KindGroup:  {table: "group_permissions", column: "group_id"},
	KindSurvey: {table: "survey_permissions", column: "survey_id"},
}

// PostgresStore stores grants in the group_permissions and survey_permissions tables
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new grant store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func tableFor(res Resource) (permissionTable, error) {
	if err := res.Validate(); err != nil {
		return permissionTable{}, err
	}
	return permissionTables[res.Kind], nil
}

// GetGrant returns the grant of subjectID on res
func (s *PostgresStore) GetGrant(ctx context.Context, subjectID int64, res Resource) (*Grant, error) {
	t, err := tableFor(res)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT p.admin_id, a.email, p.level, p.created_at, p.updated_at
		FROM %s p
		JOIN admins a ON a.id = p.admin_id
		WHERE p.admin_id = $1 AND p.%s = $2
	`, t.table, t.column)

	grant := Grant{Resource: res}
	err = s.db.QueryRowContext(ctx, query, subjectID, res.ID).Scan(
		&grant.SubjectID,
		&grant.Email,
		&grant.Level,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("grant for admin %d on %s: %w", subjectID, res, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	return &grant, nil
}

// ListGrants returns every grant on res
func (s *PostgresStore) ListGrants(ctx context.Context, res Resource) ([]Grant, error) {
	t, err := tableFor(res)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT p.admin_id, a.email, p.level, p.created_at, p.updated_at
		FROM %s p
		JOIN admins a ON a.id = p.admin_id
		WHERE p.%s = $1
		ORDER BY p.admin_id ASC
	`, t.table, t.column)

	rows, err := s.db.QueryContext(ctx, query, res.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		grant := Grant{Resource: res}
		if err := rows.Scan(
			&grant.SubjectID,
			&grant.Email,
			&grant.Level,
			&grant.CreatedAt,
			&grant.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, grant)
	}

	return grants, rows.Err()
}

// CreateGrant inserts a new grant
func (s *PostgresStore) CreateGrant(ctx context.Context, grant *Grant) error {
	t, err := tableFor(grant.Resource)
	if err != nil {
		return err
	}
	if !grant.Level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, uint8(grant.Level))
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (admin_id, %s, level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, t.table, t.column)

	now := s.now()
	_, err = s.db.ExecContext(ctx, query, grant.SubjectID, grant.Resource.ID, grant.Level, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("admin %d on %s: %w", grant.SubjectID, grant.Resource, ErrGrantExists)
		}
		return fmt.Errorf("failed to create grant: %w", err)
	}

	grant.CreatedAt = now
	grant.UpdatedAt = now
	return nil
}

// UpdateGrantLevel changes the level of an existing grant, refusing to
// downgrade the only owner
func (s *PostgresStore) UpdateGrantLevel(ctx context.Context, subjectID int64, res Resource, level Level) error {
	t, err := tableFor(res)
	if err != nil {
		return err
	}
	if !level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, uint8(level))
	}

	return s.withLockedGrants(ctx, res, t, func(tx *sql.Tx, grants []Grant) error {
		current, ok := findGrant(grants, subjectID)
		if !ok {
			return fmt.Errorf("grant for admin %d on %s: %w", subjectID, res, ErrNotFound)
		}
		if current.Level == LevelOwner && level != LevelOwner && !otherOwnerExists(grants, subjectID) {
			return fmt.Errorf("downgrade admin %d on %s: %w", subjectID, res, ErrLastOwner)
		}

		query := fmt.Sprintf(`UPDATE %s SET level = $1, updated_at = $2 WHERE admin_id = $3 AND %s = $4`, t.table, t.column)
		if _, err := tx.ExecContext(ctx, query, level, s.now(), subjectID, res.ID); err != nil {
			return fmt.Errorf("failed to update grant: %w", err)
		}
		return nil
	})
}

// DeleteGrant removes a grant if another owner remains on the resource
func (s *PostgresStore) DeleteGrant(ctx context.Context, subjectID int64, res Resource) error {
	t, err := tableFor(res)
	if err != nil {
		return err
	}

	return s.withLockedGrants(ctx, res, t, func(tx *sql.Tx, grants []Grant) error {
		if _, ok := findGrant(grants, subjectID); !ok {
			return fmt.Errorf("grant for admin %d on %s: %w", subjectID, res, ErrNotFound)
		}
		if !otherOwnerExists(grants, subjectID) {
			return fmt.Errorf("remove admin %d from %s: %w", subjectID, res, ErrLastOwner)
		}

		query := fmt.Sprintf(`DELETE FROM %s WHERE admin_id = $1 AND %s = $2`, t.table, t.column)
		if _, err := tx.ExecContext(ctx, query, subjectID, res.ID); err != nil {
			return fmt.Errorf("failed to delete grant: %w", err)
		}
		return nil
	})
}

// FindSubjectByEmail resolves an admin by email, case-insensitively
func (s *PostgresStore) FindSubjectByEmail(ctx context.Context, email string) (*Subject, error) {
	query := `SELECT id, email, super_admin FROM admins WHERE lower(email) = lower($1)`

	var subject Subject
	err := s.db.QueryRowContext(ctx, query, email).Scan(&subject.ID, &subject.Email, &subject.SuperAdmin)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("admin %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin: %w", err)
	}

	return &subject, nil
}

// withLockedGrants runs fn in a transaction holding row locks on every grant of res
func (s *PostgresStore) withLockedGrants(ctx context.Context, res Resource, t permissionTable, fn func(*sql.Tx, []Grant) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`SELECT admin_id, level FROM %s WHERE %s = $1 FOR UPDATE`, t.table, t.column)
	rows, err := tx.QueryContext(ctx, query, res.ID)
	if err != nil {
		return fmt.Errorf("failed to lock grants: %w", err)
	}

	var grants []Grant
	for rows.Next() {
		grant := Grant{Resource: res}
		if err := rows.Scan(&grant.SubjectID, &grant.Level); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read grants: %w", err)
	}

	if err := fn(tx, grants); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func findGrant(grants []Grant, subjectID int64) (Grant, bool) {
	for _, g := range grants {
		if g.SubjectID == subjectID {
			return g, true
		}
	}
	return Grant{}, false
}
