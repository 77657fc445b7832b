// Package idempotency provides the key→result stores behind command
// deduplication. A command carrying an idempotency key is executed once; a
// replay of the same key returns the cached result without re-executing.
package idempotency

import (
	"context"
	"time"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

const (
	// DefaultTTL bounds how long a processed command's result stays replayable.
	DefaultTTL = 24 * time.Hour

	// DefaultSize bounds the in-memory store's entry count.
	DefaultSize = 10000
)

// Store caches command results by idempotency key. Entries expire after the
// store's TTL; eviction before the TTL is allowed, the cache is advisory.
type Store interface {
	// Get returns the cached result for a key and whether it was present.
	Get(ctx context.Context, key string) (*eventsourcing.CommandResult, bool, error)

	// Put caches a result under a key for the store's TTL.
	Put(ctx context.Context, key string, result *eventsourcing.CommandResult) error

	// Close releases resources.
	Close() error
}
