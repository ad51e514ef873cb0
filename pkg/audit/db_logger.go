package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBLogger writes audit events to the grant_audit_logs table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger. The table is created by
// the schema migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts the event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadata interface{}
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = data
	}

	query := `
		INSERT INTO grant_audit_logs (
			timestamp, event_type, admin_id, email,
			resource_kind, resource_id, previous_level, level,
			request_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, event.EventType, event.AdminID, nullString(event.Email),
		event.ResourceKind, event.ResourceID, nullString(event.PreviousLevel), nullString(event.Level),
		nullString(event.RequestID), metadata,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Recent returns up to limit events for one resource, newest first
func (l *DBLogger) Recent(ctx context.Context, resourceKind string, resourceID int64, limit int) ([]Event, error) {
	query := `
		SELECT id, timestamp, event_type, admin_id, email,
			resource_kind, resource_id, previous_level, level,
			request_id, metadata
		FROM grant_audit_logs
		WHERE resource_kind = $1 AND resource_id = $2
		ORDER BY timestamp DESC, id DESC
		LIMIT $3
	`

	rows, err := l.db.QueryContext(ctx, query, resourceKind, resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                                 Event
			email, previous, level, requestID sql.NullString
			metadataJSON                      []byte
		)
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.EventType, &e.AdminID, &email,
			&e.ResourceKind, &e.ResourceID, &previous, &level,
			&requestID, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		e.Email = email.String
		e.PreviousLevel = previous.String
		e.Level = level.String
		e.RequestID = requestID.String
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

// Close is a no-op; the database is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
