// Package models defines the event row and the wire-level submission shape.
package models

import (
	"time"

	dErrors "pulse/pkg/domain-errors"
)

// canonicalLayout renders instants with millisecond precision in UTC. The
// rendered string is both the fingerprint input and the stored timestamp's
// canonical form, so precision lost here is lost everywhere equally.
const canonicalLayout = "2006-01-02T15:04:05.000Z"

// Submission is one raw entry of an ingest request. Timestamp stays a string
// until normalization so the fingerprint sees exactly the canonical form.
type Submission struct {
	OrgID     string `json:"orgId"`
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	EventName string `json:"eventName"`
	Timestamp string `json:"timestamp"`
}

// Event is the persisted, immutable row. EventID is the content fingerprint
// and the store's uniqueness anchor.
type Event struct {
	EventID   string    `json:"eventId"`
	OrgID     string    `json:"orgId"`
	ProjectID string    `json:"projectId"`
	UserID    string    `json:"userId"`
	EventName string    `json:"eventName"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// NormalizeTimestamp parses an RFC 3339 timestamp and returns its canonical
// string form plus the instant it denotes. Two inputs that render to the same
// canonical string are the same event time as far as identity is concerned;
// inputs differing only beyond millisecond precision remain distinct when
// their canonical strings differ.
func NormalizeTimestamp(raw string) (string, time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Accept the canonical layout itself; RFC 3339 parsing covers it, but
		// a bare date is a common client mistake worth rejecting clearly.
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid timestamp")
	}
	canonical := t.UTC().Format(canonicalLayout)
	normalized, err := time.Parse(canonicalLayout, canonical)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "re-parse canonical timestamp")
	}
	return canonical, normalized.UTC(), nil
}

// CanonicalTimestamp renders an instant in the canonical form used for
// fingerprinting.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Format(canonicalLayout)
}
