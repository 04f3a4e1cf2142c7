// Package cache is the look-aside result cache in front of the analytics
// engine. Entries are serialized response bodies keyed by a canonical
// rendering of the operation and its parameters. Entries expire by TTL only;
// writes to the event store never invalidate them, so reads may be stale for
// up to the TTL window.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrMiss reports that a key is absent (or expired). Callers must treat any
// malformed cached payload the same way: recompute, do not fail.
var ErrMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Key renders the canonical cache key for an operation and its parameters.
// Two requests with identical parameters always produce the same key.
func Key(operation string, params ...string) string {
	return operation + ":" + strings.Join(params, ":")
}
