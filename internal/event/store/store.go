// Package store defines the event persistence contract. Implementations must
// provide a uniqueness constraint on EventID and secondary lookups shaped for
// the analytics reads; any document or relational store satisfying that can
// back the system.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulse/internal/event/models"
)

// ErrDuplicateKey marks an insert that collided with an existing EventID.
// The persistence worker treats it as benign; everything else aborts the job.
var ErrDuplicateKey = errors.New("duplicate event id")

// Interval selects the bucketing granularity for event metrics.
type Interval string

const (
	IntervalDaily  Interval = "daily"
	IntervalWeekly Interval = "weekly"
)

// ParseInterval validates an interval string.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case IntervalDaily, IntervalWeekly:
		return Interval(s), nil
	default:
		return "", fmt.Errorf("unknown interval: %q", s)
	}
}

// BucketCount is one time bucket of the event metrics query.
type BucketCount struct {
	Bucket string `json:"date"`
	Count  int64  `json:"count"`
}

// Store is the event log persistence contract.
//
// InsertBatch has unordered bulk semantics: every non-conflicting row must
// land even when the batch contains rows whose EventID already exists; when
// any row conflicted the implementation reports an error satisfying
// IsDuplicateKey after landing the rest. This mirrors an unordered insertMany
// and is what lets at-least-once job delivery converge to one row per event.
type Store interface {
	InsertBatch(ctx context.Context, events []models.Event) error

	// EventsInRangeByNames returns events whose name is in names and whose
	// timestamp falls in [from, to], ordered by userId then ascending
	// timestamp. Funnel input.
	EventsInRangeByNames(ctx context.Context, names []string, from, to time.Time) ([]models.Event, error)

	// UserEvents returns one page of a user's events in ascending timestamp
	// order; CountUserEvents sizes the journey's page count.
	UserEvents(ctx context.Context, userID string, offset, limit int) ([]models.Event, error)
	CountUserEvents(ctx context.Context, userID string) (int64, error)

	// FirstOccurrences maps each user to the earliest timestamp of the named
	// event; EventsForUsers returns every event of the given users. Retention
	// inputs.
	FirstOccurrences(ctx context.Context, eventName string) (map[string]time.Time, error)
	EventsForUsers(ctx context.Context, userIDs []string) ([]models.Event, error)

	// CountByBucket counts occurrences of the named event per calendar bucket
	// within [from, to], ascending by bucket label.
	CountByBucket(ctx context.Context, eventName string, interval Interval, from, to time.Time) ([]BucketCount, error)

	// IsDuplicateKey reports whether err is this store's uniqueness-constraint
	// violation. Only that specific condition qualifies; generic failures must
	// return false so they are retried, not swallowed.
	IsDuplicateKey(err error) bool
}

// DailyBucket and WeeklyBucket render the canonical bucket labels. Both the
// in-memory store and tests use them; the Postgres store produces the same
// labels in SQL.
func DailyBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func WeeklyBucket(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
