package schema

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func TestMigrations_Ordered(t *testing.T) {
	migrations := Migrations()
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "versions must be contiguous from 1")
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
	}
}

func TestMigrations_CreateStoreTables(t *testing.T) {
	var all string
	for _, m := range Migrations() {
		all += m.SQL
	}

	for _, table := range []string{
		"admins", "groups", "surveys", "group_permissions", "survey_permissions",
		"survey_allocations", "clients", "answers", "grant_audit_logs",
	} {
		assert.Contains(t, all, "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}

func TestRun_AppliesPendingOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	migrations := Migrations()
	last := migrations[len(migrations)-1]

	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied := sqlmock.NewRows([]string{"version"})
	for _, m := range migrations[:len(migrations)-1] {
		applied.AddRow(m.Version)
	}
	mock.ExpectQuery(q("SELECT version FROM schema_migrations")).WillReturnRows(applied)

	mock.ExpectBegin()
	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS grant_audit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("INSERT INTO schema_migrations")).
		WithArgs(last.Version, last.Description).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, Run(context.Background(), db, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_NothingPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied := sqlmock.NewRows([]string{"version"})
	for _, m := range Migrations() {
		applied.AddRow(m.Version)
	}
	mock.ExpectQuery(q("SELECT version FROM schema_migrations")).WillReturnRows(applied)

	require.NoError(t, Run(context.Background(), db, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_FailedMigrationRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	mock.ExpectBegin()
	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS admins")).
		WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err = Run(context.Background(), db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute migration 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_TrackingTableError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnError(errors.New("connection refused"))

	err = Run(context.Background(), db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create migrations table")
}

func TestPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	migrations := Migrations()
	applied := sqlmock.NewRows([]string{"version"})
	for _, m := range migrations[:len(migrations)-2] {
		applied.AddRow(m.Version)
	}
	mock.ExpectQuery(q("SELECT version FROM schema_migrations")).WillReturnRows(applied)

	pending, err := Pending(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, migrations[len(migrations)-2].Version, pending[0].Version)
	assert.Equal(t, migrations[len(migrations)-1].Version, pending[1].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}
