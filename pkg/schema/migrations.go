package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fieldnote/fieldnote/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns every schema migration in version order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create admins table",
			SQL: `
				CREATE TABLE IF NOT EXISTS admins (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) NOT NULL,
					super_admin BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_admins_email ON admins(lower(email));
			`,
		},
		{
			Version:     2,
			Description: "Create groups and surveys tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS groups (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS surveys (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					content JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create permission tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS group_permissions (
					admin_id BIGINT NOT NULL REFERENCES admins(id) ON DELETE CASCADE,
					group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					level VARCHAR(16) NOT NULL CHECK (level IN ('view', 'edit', 'owner')),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (admin_id, group_id)
				);

				CREATE INDEX IF NOT EXISTS idx_group_permissions_group_id ON group_permissions(group_id);

				CREATE TABLE IF NOT EXISTS survey_permissions (
					admin_id BIGINT NOT NULL REFERENCES admins(id) ON DELETE CASCADE,
					survey_id BIGINT NOT NULL REFERENCES surveys(id) ON DELETE CASCADE,
					level VARCHAR(16) NOT NULL CHECK (level IN ('view', 'edit', 'owner')),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (admin_id, survey_id)
				);

				CREATE INDEX IF NOT EXISTS idx_survey_permissions_survey_id ON survey_permissions(survey_id);
			`,
		},
		{
			Version:     4,
			Description: "Create survey_allocations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS survey_allocations (
					id BIGSERIAL PRIMARY KEY,
					type VARCHAR(16) NOT NULL CHECK (type IN ('oneoff', 'initial')),
					open_at TIMESTAMP,
					close_at TIMESTAMP,
					due_at TIMESTAMP,
					pushed_at TIMESTAMP,
					group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					survey_id BIGINT NOT NULL REFERENCES surveys(id) ON DELETE CASCADE,
					creator_id BIGINT REFERENCES admins(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_survey_allocations_group_id ON survey_allocations(group_id);
				CREATE INDEX IF NOT EXISTS idx_survey_allocations_due
					ON survey_allocations(type, pushed_at, due_at);
			`,
		},
		{
			Version:     5,
			Description: "Create clients and answers tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS clients (
					id BIGSERIAL PRIMARY KEY,
					group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					push_token VARCHAR(255),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_clients_group_id ON clients(group_id);

				CREATE TABLE IF NOT EXISTS answers (
					client_id BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
					survey_allocation_id BIGINT NOT NULL REFERENCES survey_allocations(id) ON DELETE CASCADE,
					complete BOOLEAN NOT NULL DEFAULT FALSE,
					answers JSONB,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (client_id, survey_allocation_id)
				);

				CREATE INDEX IF NOT EXISTS idx_answers_allocation_id ON answers(survey_allocation_id);
			`,
		},
		{
			Version:     6,
			Description: "Create grant audit log",
			SQL: `
				CREATE TABLE IF NOT EXISTS grant_audit_logs (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
					event_type VARCHAR(50) NOT NULL,
					admin_id BIGINT NOT NULL,
					email VARCHAR(255),
					resource_kind VARCHAR(20) NOT NULL,
					resource_id BIGINT NOT NULL,
					previous_level VARCHAR(20),
					level VARCHAR(20),
					request_id VARCHAR(100),
					metadata JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_grant_audit_logs_timestamp ON grant_audit_logs(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_grant_audit_logs_resource ON grant_audit_logs(resource_kind, resource_id);
				CREATE INDEX IF NOT EXISTS idx_grant_audit_logs_admin_id ON grant_audit_logs(admin_id);
			`,
		},
	}
}

// Run applies every migration not yet recorded in schema_migrations. Each
// migration runs in its own transaction together with its bookkeeping row.
func Run(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := AppliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running migration")

		if err := apply(ctx, db, migration); err != nil {
			return err
		}

		log.Info("Migration completed")
	}

	return nil
}

func apply(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}

// Pending returns the migrations not yet recorded, in version order
func Pending(ctx context.Context, db *sql.DB) ([]Migration, error) {
	applied, err := AppliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, migration := range Migrations() {
		if !applied[migration.Version] {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// AppliedVersions returns the recorded migration versions
func AppliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
