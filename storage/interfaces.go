package storage

import "context"

// Medium is a flat key-value storage medium shared process-wide and
// potentially across processes. Implementations must be thread-safe.
type Medium interface {
	// Get returns the value stored under key. The boolean reports presence;
	// a missing key is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix, in unspecified order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the medium.
	Close() error
}

// Watcher exposes the medium's native change feed. Implementations invoke
// fn with the key of every slot written or deleted under the watched
// prefixes until ctx is cancelled.
type Watcher interface {
	Watch(ctx context.Context, prefixes []string, fn func(key string)) error
}
