// Package memory provides an in-memory event store. It enforces the same
// EventID uniqueness and read ordering as the Postgres store and backs the
// unit tests plus queue-less local runs. It intentionally favors clarity over
// performance.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pulse/internal/event/models"
	"pulse/internal/event/store"
)

type Store struct {
	mu     sync.RWMutex
	events map[string]models.Event // keyed by EventID
	clock  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for CreatedAt bookkeeping.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		events: make(map[string]models.Event),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InsertBatch lands every non-conflicting row and reports ErrDuplicateKey if
// any row collided, matching unordered bulk-insert semantics.
func (s *Store) InsertBatch(_ context.Context, events []models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	duplicates := 0
	now := s.clock().UTC()
	for _, e := range events {
		if _, exists := s.events[e.EventID]; exists {
			duplicates++
			continue
		}
		e.CreatedAt = now
		e.UpdatedAt = now
		s.events[e.EventID] = e
	}
	if duplicates > 0 {
		return fmt.Errorf("%d of %d rows: %w", duplicates, len(events), store.ErrDuplicateKey)
	}
	return nil
}

func (s *Store) EventsInRangeByNames(_ context.Context, names []string, from, to time.Time) ([]models.Event, error) {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Event
	for _, e := range s.events {
		if _, ok := wanted[e.EventName]; !ok {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *Store) UserEvents(_ context.Context, userID string, offset, limit int) ([]models.Event, error) {
	all := s.userEventsSorted(userID)
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *Store) CountUserEvents(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.events {
		if e.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *Store) FirstOccurrences(_ context.Context, eventName string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	first := make(map[string]time.Time)
	for _, e := range s.events {
		if e.EventName != eventName {
			continue
		}
		if t, ok := first[e.UserID]; !ok || e.Timestamp.Before(t) {
			first[e.UserID] = e.Timestamp
		}
	}
	return first, nil
}

func (s *Store) EventsForUsers(_ context.Context, userIDs []string) ([]models.Event, error) {
	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Event
	for _, e := range s.events {
		if _, ok := wanted[e.UserID]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *Store) CountByBucket(_ context.Context, eventName string, interval store.Interval, from, to time.Time) ([]store.BucketCount, error) {
	s.mu.RLock()
	counts := make(map[string]int64)
	for _, e := range s.events {
		if e.EventName != eventName {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		var bucket string
		if interval == store.IntervalWeekly {
			bucket = store.WeeklyBucket(e.Timestamp)
		} else {
			bucket = store.DailyBucket(e.Timestamp)
		}
		counts[bucket]++
	}
	s.mu.RUnlock()

	out := make([]store.BucketCount, 0, len(counts))
	for bucket, count := range counts {
		out = append(out, store.BucketCount{Bucket: bucket, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket < out[j].Bucket })
	return out, nil
}

func (s *Store) IsDuplicateKey(err error) bool {
	return errors.Is(err, store.ErrDuplicateKey)
}

// Len reports the number of stored rows; test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *Store) userEventsSorted(userID string) []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Event
	for _, e := range s.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
