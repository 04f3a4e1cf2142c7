// Package analytics computes the four derived reads over the event log:
// funnel, retention, user journey, and event metrics. Every operation runs
// behind the look-aside result cache; a hit returns the cached serialized
// body verbatim, a miss computes from the store and populates the cache.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"pulse/internal/analytics/cache"
	"pulse/internal/event/models"
	"pulse/internal/event/store"
	"pulse/internal/platform/metrics"
	dErrors "pulse/pkg/domain-errors"
)

type Service struct {
	store   store.Store
	cache   cache.Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
	ttl     time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches the prometheus metrics set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(st store.Store, c cache.Cache, ttl time.Duration, logger *slog.Logger, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "event store is required")
	}
	if c == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "result cache is required")
	}
	s := &Service{store: st, cache: c, ttl: ttl, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Funnel counts, per step, the users who emitted the step events in order.
// Intervening events are permitted; the per-user cursor never regresses.
func (s *Service) Funnel(ctx context.Context, req FunnelRequest) ([]byte, error) {
	names := make([]string, len(req.Steps))
	for i, step := range req.Steps {
		names[i] = step.EventName
	}
	key := cache.Key("funnels",
		canonicalList(names),
		models.CanonicalTimestamp(req.StartDate),
		models.CanonicalTimestamp(req.EndDate),
	)

	return s.cached(ctx, "funnel", key, func() (any, error) {
		events, err := s.store.EventsInRangeByNames(ctx, names, req.StartDate, req.EndDate)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load funnel events")
		}

		counts := funnelCounts(names, events)
		result := FunnelResult{Steps: make([]FunnelStepResult, len(names))}
		for i, name := range names {
			result.Steps[i] = FunnelStepResult{EventName: name, UserCount: counts[i]}
		}
		return result, nil
	})
}

// Retention buckets cohort users' event occurrences by whole-day offset from
// each user's first cohort event. It counts occurrences per offset, not
// distinct users; that is the contract, preserved deliberately.
func (s *Service) Retention(ctx context.Context, req RetentionRequest) ([]byte, error) {
	page := ClampPage(req.Page)
	limit := ClampLimit(req.Limit)
	key := cache.Key("retention",
		req.Cohort,
		strconv.Itoa(req.Days),
		"p"+strconv.Itoa(page),
		"l"+strconv.Itoa(limit),
	)

	return s.cached(ctx, "retention", key, func() (any, error) {
		first, err := s.store.FirstOccurrences(ctx, req.Cohort)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load cohort anchors")
		}

		userIDs := make([]string, 0, len(first))
		for id := range first {
			userIDs = append(userIDs, id)
		}
		sort.Strings(userIDs)

		events, err := s.store.EventsForUsers(ctx, userIDs)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load cohort events")
		}

		buckets := retentionBuckets(first, events, req.Days)
		start, end := pageBounds(len(buckets), page, limit)
		return RetentionResult{Cohort: req.Cohort, Retention: buckets[start:end]}, nil
	})
}

// UserJourney returns one ascending page of a user's (eventName, timestamp)
// timeline plus the total page count.
func (s *Service) UserJourney(ctx context.Context, req JourneyRequest) ([]byte, error) {
	page := ClampPage(req.Page)
	limit := ClampLimit(req.Limit)
	key := cache.Key("userJourney", req.UserID, strconv.Itoa(page), strconv.Itoa(limit))

	return s.cached(ctx, "user_journey", key, func() (any, error) {
		events, err := s.store.UserEvents(ctx, req.UserID, (page-1)*limit, limit)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load user events")
		}
		total, err := s.store.CountUserEvents(ctx, req.UserID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count user events")
		}

		entries := make([]JourneyEntry, len(events))
		for i, e := range events {
			entries[i] = JourneyEntry{
				EventName: e.EventName,
				Timestamp: models.CanonicalTimestamp(e.Timestamp),
			}
		}
		return JourneyResult{
			UserID:     req.UserID,
			Page:       page,
			Limit:      limit,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
			Events:     entries,
		}, nil
	})
}

// EventMetrics counts occurrences of one event per calendar day or ISO week.
func (s *Service) EventMetrics(ctx context.Context, req MetricsRequest) ([]byte, error) {
	page := ClampPage(req.Page)
	limit := ClampLimit(req.Limit)
	key := cache.Key("eventMetrics",
		req.Event,
		string(req.Interval),
		models.CanonicalTimestamp(req.StartDate),
		models.CanonicalTimestamp(req.EndDate),
		"p"+strconv.Itoa(page),
		"l"+strconv.Itoa(limit),
	)

	return s.cached(ctx, "event_metrics", key, func() (any, error) {
		buckets, err := s.store.CountByBucket(ctx, req.Event, req.Interval, req.StartDate, req.EndDate)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count event buckets")
		}
		start, end := pageBounds(len(buckets), page, limit)
		paged := buckets[start:end]
		if paged == nil {
			paged = []store.BucketCount{}
		}
		return MetricsResult{Event: req.Event, Metrics: paged}, nil
	})
}

// cached wraps one operation in the look-aside discipline. A malformed cached
// payload is treated as a miss, never as an error. Concurrent misses on the
// same key both compute and both write; last write wins and the payloads are
// equivalent since the computation is deterministic.
func (s *Service) cached(ctx context.Context, operation, key string, compute func() (any, error)) ([]byte, error) {
	started := time.Now()
	defer func() {
		s.metrics.ObserveQuery(operation, time.Since(started).Seconds())
	}()

	payload, err := s.cache.Get(ctx, key)
	if err == nil {
		if json.Valid(payload) {
			s.metrics.IncCacheHit(operation)
			return payload, nil
		}
		s.logger.WarnContext(ctx, "corrupt cache entry treated as miss", "key", key)
	} else if !errors.Is(err, cache.ErrMiss) {
		// A degraded cache must not take reads down with it.
		s.logger.WarnContext(ctx, "cache read failed", "key", key, "error", err.Error())
	}
	s.metrics.IncCacheMiss(operation)

	result, err := compute()
	if err != nil {
		return nil, err
	}
	payload, err = json.Marshal(result)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal result")
	}

	if err := s.cache.Set(ctx, key, payload, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err.Error())
	}
	return payload, nil
}

// funnelCounts walks each user's in-range events (already ordered by user,
// then ascending timestamp) with a step cursor. Whenever the current event
// matches the step at the cursor, that step's count is incremented and the
// cursor advances; a user stops contributing once the last step is reached.
func funnelCounts(steps []string, events []models.Event) []int {
	counts := make([]int, len(steps))
	if len(steps) == 0 {
		return counts
	}

	var currentUser string
	cursor := -1 // -1 marks "no user in progress"
	for _, e := range events {
		if cursor == -1 || e.UserID != currentUser {
			currentUser = e.UserID
			cursor = 0
		}
		if cursor >= len(steps) {
			continue
		}
		if e.EventName == steps[cursor] {
			counts[cursor]++
			cursor++
		}
	}
	return counts
}

// retentionBuckets computes occurrence counts per whole-day offset from each
// user's day-0 anchor, keeping offsets in [0, days], sorted ascending.
func retentionBuckets(first map[string]time.Time, events []models.Event, days int) []RetentionBucket {
	counts := make(map[int]int64)
	for _, e := range events {
		anchor, ok := first[e.UserID]
		if !ok {
			continue
		}
		// Floor, not truncate: an event shortly before the anchor belongs to
		// offset -1 and is excluded.
		offset := int(math.Floor(e.Timestamp.Sub(anchor).Hours() / 24))
		if offset < 0 || offset > days {
			continue
		}
		counts[offset]++
	}

	buckets := make([]RetentionBucket, 0, len(counts))
	for day, count := range counts {
		buckets = append(buckets, RetentionBucket{Day: day, Count: count})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Day < buckets[j].Day })
	return buckets
}

// pageBounds converts a 1-based page into slice bounds over n items.
func pageBounds(n, page, limit int) (int, int) {
	start := (page - 1) * limit
	if start > n {
		start = n
	}
	end := start + limit
	if end > n {
		end = n
	}
	return start, end
}

// canonicalList renders a name list deterministically for cache keys.
func canonicalList(names []string) string {
	b, _ := json.Marshal(names)
	return string(b)
}
