// Package postgres persists events in PostgreSQL. The event_id primary key
// is the uniqueness constraint that arbitrates cross-batch duplicates.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"pulse/internal/event/models"
	"pulse/internal/event/store"
)

// schemaSQL is embedded so the service can self-bootstrap its schema.
//
//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// InsertBatch performs one multi-row insert with ON CONFLICT DO NOTHING so a
// duplicate row never aborts the remaining rows. When fewer rows land than
// were sent, the shortfall can only be event_id collisions and the error
// reports ErrDuplicateKey for the worker to classify.
func (s *Store) InsertBatch(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*6)
	for i, e := range events {
		base := i * 6
		placeholders = append(placeholders, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, e.EventID, e.OrgID, e.ProjectID, e.UserID, e.EventName, e.Timestamp.UTC())
	}

	query := `
		INSERT INTO events (event_id, org_id, project_id, user_id, event_name, timestamp)
		VALUES ` + strings.Join(placeholders, ",") + `
		ON CONFLICT (event_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert batch rows affected: %w", err)
	}
	if inserted < int64(len(events)) {
		return fmt.Errorf("%d of %d rows: %w", int64(len(events))-inserted, len(events), store.ErrDuplicateKey)
	}
	return nil
}

func (s *Store) EventsInRangeByNames(ctx context.Context, names []string, from, to time.Time) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, org_id, project_id, user_id, event_name, timestamp
		FROM events
		WHERE event_name = ANY($1)
		  AND timestamp >= $2
		  AND timestamp <= $3
		ORDER BY user_id, timestamp
	`, pq.Array(names), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("events in range: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) UserEvents(ctx context.Context, userID string, offset, limit int) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, org_id, project_id, user_id, event_name, timestamp
		FROM events
		WHERE user_id = $1
		ORDER BY timestamp
		OFFSET $2 LIMIT $3
	`, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("user events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) CountUserEvents(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user events: %w", err)
	}
	return n, nil
}

func (s *Store) FirstOccurrences(ctx context.Context, eventName string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, MIN(timestamp)
		FROM events
		WHERE event_name = $1
		GROUP BY user_id
	`, eventName)
	if err != nil {
		return nil, fmt.Errorf("first occurrences: %w", err)
	}
	defer rows.Close()

	first := make(map[string]time.Time)
	for rows.Next() {
		var userID string
		var ts time.Time
		if err := rows.Scan(&userID, &ts); err != nil {
			return nil, fmt.Errorf("scan first occurrence: %w", err)
		}
		first[userID] = ts.UTC()
	}
	return first, rows.Err()
}

func (s *Store) EventsForUsers(ctx context.Context, userIDs []string) ([]models.Event, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, org_id, project_id, user_id, event_name, timestamp
		FROM events
		WHERE user_id = ANY($1)
		ORDER BY user_id, timestamp
	`, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("events for users: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) CountByBucket(ctx context.Context, eventName string, interval store.Interval, from, to time.Time) ([]store.BucketCount, error) {
	// Labels must match store.DailyBucket / store.WeeklyBucket exactly so the
	// two implementations are interchangeable under the analytics engine.
	bucketExpr := `to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD')`
	if interval == store.IntervalWeekly {
		bucketExpr = `to_char(timestamp AT TIME ZONE 'UTC', 'IYYY-"W"IW')`
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bucketExpr+` AS bucket, COUNT(*)
		FROM events
		WHERE event_name = $1
		  AND timestamp >= $2
		  AND timestamp <= $3
		GROUP BY bucket
		ORDER BY bucket
	`, eventName, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("count by bucket: %w", err)
	}
	defer rows.Close()

	var out []store.BucketCount
	for rows.Next() {
		var bc store.BucketCount
		if err := rows.Scan(&bc.Bucket, &bc.Count); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}

// IsDuplicateKey matches both this store's surfaced shortfall error and a raw
// Postgres unique_violation, keeping the worker's benign-duplicate check
// store-agnostic.
func (s *Store) IsDuplicateKey(err error) bool {
	if errors.Is(err, store.ErrDuplicateKey) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	var out []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.EventID, &e.OrgID, &e.ProjectID, &e.UserID, &e.EventName, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
