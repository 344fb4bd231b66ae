// Package kvstore defines the storage contract the task queue runs on: named
// FIFO lists for priority tiers and dead letters, plus a keyed value space
// with TTL expiry for per-task metadata. Implementations must make ListPop an
// exclusive hand-off and Update a read-modify-write unit.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get/Update when the key is absent or expired.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrEmpty is returned by ListPop when the list has no entries.
	ErrEmpty = errors.New("kvstore: list empty")
)

// Store is the injected backing store for the queue and metadata bookkeeping.
type Store interface {
	// ListPush appends value to the tail of the named list.
	ListPush(ctx context.Context, list string, value []byte) error
	// ListPop removes and returns the oldest entry of the named list.
	// Returns ErrEmpty when the list has no entries. The removal is
	// exclusive: no two callers ever receive the same entry.
	ListPop(ctx context.Context, list string) ([]byte, error)
	// ListLen returns the number of entries in the named list.
	ListLen(ctx context.Context, list string) (int, error)
	// ListRange returns up to limit entries from the tail of the named
	// list, newest first, without removing them.
	ListRange(ctx context.Context, list string, limit int) ([][]byte, error)
	// ListClear removes every entry of the named list.
	ListClear(ctx context.Context, list string) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// SetEx stores value under key with the given TTL. A zero TTL means
	// no expiry.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Update atomically applies mutate to the current value of key and
	// writes the result back, refreshing the TTL. Returns ErrNotFound if
	// the key is absent or expired; mutate errors propagate unchanged and
	// leave the stored value untouched.
	Update(ctx context.Context, key string, ttl time.Duration, mutate func([]byte) ([]byte, error)) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns all live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// SweepExpired removes expired keys and returns how many were
	// reclaimed. Stores with native expiry may make this a no-op.
	SweepExpired(ctx context.Context) (int, error)

	Close() error
}
