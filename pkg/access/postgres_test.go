package access

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to create a new mock store
func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewPostgresStore(db), mock, db
}

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func TestPostgresStore_GetGrant(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows([]string{"admin_id", "email", "level", "created_at", "updated_at"}).
			AddRow(3, "alice@example.com", "edit", now, now)

		mock.ExpectQuery(q("FROM group_permissions p")).
			WithArgs(int64(3), int64(10)).
			WillReturnRows(rows)

		grant, err := store.GetGrant(ctx, 3, Group(10))
		require.NoError(t, err)
		assert.Equal(t, int64(3), grant.SubjectID)
		assert.Equal(t, "alice@example.com", grant.Email)
		assert.Equal(t, LevelEdit, grant.Level)
		assert.Equal(t, Group(10), grant.Resource)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("survey table", func(t *testing.T) {
		mock.ExpectQuery(q("FROM survey_permissions p")).
			WithArgs(int64(3), int64(11)).
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetGrant(ctx, 3, Survey(11))
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid resource never queries", func(t *testing.T) {
		_, err := store.GetGrant(ctx, 3, Resource{Kind: "journal", ID: 1})
		assert.ErrorIs(t, err, ErrInvalidResource)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_ListGrants(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"admin_id", "email", "level", "created_at", "updated_at"}).
		AddRow(1, "a@example.com", "owner", now, now).
		AddRow(2, "b@example.com", "view", now, now)

	mock.ExpectQuery(q("WHERE p.survey_id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(rows)

	grants, err := store.ListGrants(context.Background(), Survey(5))
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, LevelOwner, grants[0].Level)
	assert.Equal(t, LevelView, grants[1].Level)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateGrant(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(q("INSERT INTO group_permissions (admin_id, group_id, level, created_at, updated_at)")).
			WithArgs(int64(2), int64(7), "view", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		grant := &Grant{SubjectID: 2, Resource: Group(7), Level: LevelView}
		require.NoError(t, store.CreateGrant(ctx, grant))
		assert.False(t, grant.CreatedAt.IsZero())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate", func(t *testing.T) {
		mock.ExpectExec(q("INSERT INTO group_permissions")).
			WillReturnError(&pq.Error{Code: uniqueViolation})

		err := store.CreateGrant(ctx, &Grant{SubjectID: 2, Resource: Group(7), Level: LevelView})
		assert.ErrorIs(t, err, ErrGrantExists)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid level", func(t *testing.T) {
		err := store.CreateGrant(ctx, &Grant{SubjectID: 2, Resource: Group(7)})
		assert.ErrorIs(t, err, ErrInvalidLevel)
	})
}

func lockRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"admin_id", "level"})
}

func TestPostgresStore_DeleteGrant(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("sole owner is kept", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(q("SELECT admin_id, level FROM group_permissions WHERE group_id = $1 FOR UPDATE")).
			WithArgs(int64(1)).
			WillReturnRows(lockRows().AddRow(1, "owner").AddRow(2, "edit"))
		mock.ExpectRollback()

		err := store.DeleteGrant(ctx, 1, Group(1))
		assert.ErrorIs(t, err, ErrLastOwner)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("another owner remains", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).
			WithArgs(int64(1)).
			WillReturnRows(lockRows().AddRow(1, "owner").AddRow(2, "owner"))
		mock.ExpectExec(q("DELETE FROM group_permissions WHERE admin_id = $1 AND group_id = $2")).
			WithArgs(int64(1), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.DeleteGrant(ctx, 1, Group(1)))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing grant", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM survey_permissions WHERE survey_id = $1 FOR UPDATE")).
			WithArgs(int64(4)).
			WillReturnRows(lockRows().AddRow(2, "owner"))
		mock.ExpectRollback()

		err := store.DeleteGrant(ctx, 9, Survey(4))
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete failure rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).
			WillReturnRows(lockRows().AddRow(1, "owner").AddRow(2, "owner"))
		mock.ExpectExec(q("DELETE FROM group_permissions")).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := store.DeleteGrant(ctx, 1, Group(1))
		assert.ErrorContains(t, err, "connection reset")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_UpdateGrantLevel(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("upgrade", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).
			WithArgs(int64(3)).
			WillReturnRows(lockRows().AddRow(1, "owner").AddRow(2, "view"))
		mock.ExpectExec(q("UPDATE group_permissions SET level = $1, updated_at = $2 WHERE admin_id = $3 AND group_id = $4")).
			WithArgs("owner", sqlmock.AnyArg(), int64(2), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.UpdateGrantLevel(ctx, 2, Group(3), LevelOwner))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("downgrade sole owner", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).
			WithArgs(int64(3)).
			WillReturnRows(lockRows().AddRow(1, "owner").AddRow(2, "edit"))
		mock.ExpectRollback()

		err := store.UpdateGrantLevel(ctx, 1, Group(3), LevelView)
		assert.ErrorIs(t, err, ErrLastOwner)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_FindSubjectByEmail(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery(q("FROM admins WHERE lower(email) = lower($1)")).
		WithArgs("Root@Example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "super_admin"}).AddRow(1, "root@example.com", true))

	subject, err := store.FindSubjectByEmail(ctx, "Root@Example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), subject.ID)
	assert.True(t, subject.SuperAdmin)

	mock.ExpectQuery(q("FROM admins")).
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err = store.FindSubjectByEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
