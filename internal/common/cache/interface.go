// Package cache defines the key-value cache interface used for the
// submission status mirror, decoupled from the Redis client so tests can run
// against an embedded server.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the subset of key-value operations the pipeline uses.
type Cache interface {
	// Get retrieves the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// MGet retrieves values for several keys in one round trip. Missing
	// keys yield empty strings in the corresponding positions.
	MGet(ctx context.Context, keys ...string) ([]string, error)

	// Set stores a key-value pair. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) error

	// Ping verifies the cache connection is alive.
	Ping(ctx context.Context) error

	// Close closes the cache connection.
	Close() error
}

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
