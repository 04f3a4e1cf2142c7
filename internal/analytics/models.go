package analytics

import (
	"time"

	"pulse/internal/event/store"
)

// Pagination bounds shared by all four read operations.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// FunnelStep names one ordered step of a funnel.
type FunnelStep struct {
	EventName string `json:"eventName"`
}

// FunnelRequest is an ordered step list plus a date range.
type FunnelRequest struct {
	Steps     []FunnelStep
	StartDate time.Time
	EndDate   time.Time
}

// FunnelStepResult is one step's user count, in step order.
type FunnelStepResult struct {
	EventName string `json:"eventName"`
	UserCount int    `json:"userCount"`
}

type FunnelResult struct {
	Steps []FunnelStepResult `json:"steps"`
}

// RetentionRequest anchors a cohort on the first occurrence of Cohort per
// user and buckets that cohort's events by whole-day offset within [0, Days].
type RetentionRequest struct {
	Cohort string
	Days   int
	Page   int
	Limit  int
}

// RetentionBucket counts event occurrences (not distinct users) at one
// day offset.
type RetentionBucket struct {
	Day   int   `json:"day"`
	Count int64 `json:"count"`
}

type RetentionResult struct {
	Cohort    string            `json:"cohort"`
	Retention []RetentionBucket `json:"retention"`
}

// JourneyRequest selects one page of a user's ascending timeline.
type JourneyRequest struct {
	UserID string
	Page   int
	Limit  int
}

// JourneyEntry keeps the timestamp in canonical string form so cached and
// freshly computed payloads serialize identically.
type JourneyEntry struct {
	EventName string `json:"eventName"`
	Timestamp string `json:"timestamp"`
}

type JourneyResult struct {
	UserID     string         `json:"userId"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"totalPages"`
	Events     []JourneyEntry `json:"events"`
}

// MetricsRequest buckets occurrences of one event by day or week.
type MetricsRequest struct {
	Event     string
	Interval  store.Interval
	StartDate time.Time
	EndDate   time.Time
	Page      int
	Limit     int
}

type MetricsResult struct {
	Event   string              `json:"event"`
	Metrics []store.BucketCount `json:"metrics"`
}

// ClampPage normalizes a 1-based page number.
func ClampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// ClampLimit normalizes a page size into [1, MaxLimit], defaulting when
// unset or nonsensical.
func ClampLimit(limit int) int {
	if limit < 1 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
