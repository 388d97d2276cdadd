package driven

import "context"

// UpdateFunc computes the next value of a key from its current value.
// Returning write=false leaves the key untouched. Returning write=true
// with a nil next deletes the key. A non-nil error aborts the update
// and is returned by Update unchanged.
type UpdateFunc func(current []byte, exists bool) (next []byte, write bool, err error)

// KVStore is the durable key-value store holding live session status,
// leases and cooperative flags.
type KVStore interface {
	// Get returns domain.ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte) error

	// Delete succeeds when the key does not exist.
	Delete(ctx context.Context, key string) error

	// Update atomically reads, transforms and writes a key.
	// It reports whether the key was written.
	Update(ctx context.Context, key string, fn UpdateFunc) (bool, error)
}
