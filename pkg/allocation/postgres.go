package allocation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore reads survey_allocations, clients and answers
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new allocation store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// dueQuery mirrors Due. $1 is now, $2 is now minus the throttle.
const dueQuery = `
	SELECT a.id, a.type, a.open_at, a.close_at, a.due_at, a.pushed_at,
	       a.group_id, a.survey_id, a.creator_id, s.name
	FROM survey_allocations a
	JOIN surveys s ON s.id = a.survey_id
	WHERE a.type = 'oneoff'
	  AND (a.open_at IS NULL OR a.open_at < $1)
	  AND (a.close_at IS NULL OR a.close_at > $1)
	  AND (a.pushed_at IS NULL
	       OR (a.pushed_at < a.due_at AND a.due_at < $1 AND a.pushed_at < $2))
	ORDER BY a.id ASC
	LIMIT $3
`

// ListDue returns the allocations due for a push
func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, throttle time.Duration, limit int) ([]Allocation, error) {
	rows, err := s.db.QueryContext(ctx, dueQuery, now, now.Add(-throttle), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due allocations: %w", err)
	}
	defer rows.Close()

	var allocations []Allocation
	for rows.Next() {
		var (
			a                                Allocation
			typ                              string
			openAt, closeAt, dueAt, pushedAt sql.NullTime
			creatorID                        sql.NullInt64
		)
		if err := rows.Scan(
			&a.ID,
			&typ,
			&openAt,
			&closeAt,
			&dueAt,
			&pushedAt,
			&a.GroupID,
			&a.SurveyID,
			&creatorID,
			&a.SurveyName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.Type = Type(typ)
		a.OpenAt = timePtr(openAt)
		a.CloseAt = timePtr(closeAt)
		a.DueAt = timePtr(dueAt)
		a.PushedAt = timePtr(pushedAt)
		if creatorID.Valid {
			a.CreatorID = &creatorID.Int64
		}
		allocations = append(allocations, a)
	}

	return allocations, rows.Err()
}

// ListPushableClients returns the clients of groupID that have a push token
func (s *PostgresStore) ListPushableClients(ctx context.Context, groupID int64) ([]Client, error) {
	query := `
		SELECT id, group_id, push_token
		FROM clients
		WHERE group_id = $1 AND push_token IS NOT NULL
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var (
			c     Client
			token sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.GroupID, &token); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		if token.Valid {
			c.PushToken = &token.String
		}
		clients = append(clients, c)
	}

	return clients, rows.Err()
}

// ListAnswers returns the answers recorded for allocationID
func (s *PostgresStore) ListAnswers(ctx context.Context, allocationID int64) ([]Answer, error) {
	query := `
		SELECT client_id, survey_allocation_id, complete, answers
		FROM answers
		WHERE survey_allocation_id = $1
	`

	rows, err := s.db.QueryContext(ctx, query, allocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query answers: %w", err)
	}
	defer rows.Close()

	var answers []Answer
	for rows.Next() {
		var (
			ans  Answer
			data []byte
		)
		if err := rows.Scan(&ans.ClientID, &ans.AllocationID, &ans.Complete, &data); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ans.Answers); err != nil {
				return nil, fmt.Errorf("failed to decode answers of client %d: %w", ans.ClientID, err)
			}
		}
		answers = append(answers, ans)
	}

	return answers, rows.Err()
}

// MarkPushed records a push
func (s *PostgresStore) MarkPushed(ctx context.Context, allocationID int64, at time.Time) error {
	query := `UPDATE survey_allocations SET pushed_at = $1, updated_at = $1 WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, at, allocationID)
	if err != nil {
		return fmt.Errorf("failed to mark allocation pushed: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("allocation %d: %w", allocationID, ErrNotFound)
	}

	return nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
