// Package storage provides the local persistent key-value primitive the
// record and session stores sit on. Drivers share one small contract so the
// rest of the code never knows whether state lives in memory, on disk, in
// SQLite or in Redis.
package storage

import (
	"context"
	"errors"
)

// Well-known keys. Values are plain JSON of the model structs.
const (
	KeyPatients     = "rounds_patients"
	KeyClinicians   = "rounds_clinicians"
	KeySessions     = "rounds_sessions"
	KeySessionIndex = "rounds_session_index"
)

var (
	// ErrKeyNotFound is returned by Get for absent keys.
	ErrKeyNotFound = errors.New("storage: key not found")
	// ErrQuotaExceeded is returned by Set when a write would push the store
	// past its byte budget.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
	// ErrSerialization marks a value that could not be encoded or decoded.
	// Mutations that hit it are abandoned, never partially applied.
	ErrSerialization = errors.New("storage: serialization failed")
)

// KV is the minimal persistence contract.
type KV interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value. Returns
	// ErrQuotaExceeded when the write would exceed the store's budget.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists all stored keys in unspecified order.
	Keys(ctx context.Context) ([]string, error)
	// Close releases driver resources. Safe to call more than once.
	Close() error
}

// Event signals that a key changed outside this process.
type Event struct {
	Key string
}

// Watcher is implemented by drivers that can observe external writes to the
// backing store. The channel closes when ctx is cancelled or the driver
// shuts down.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Event, error)
}
