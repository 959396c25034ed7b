// Package checkpoint provides durable, append-only checkpoint storage
// for resumable graph execution.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists opaque checkpoint envelopes keyed by thread and
// checkpoint ID. Implementations must be safe for concurrent use.
//
// Stores are append-only: Put never overwrites, since checkpoint IDs are
// unique per save. Retention is the Saver's job (see Policy).
type Store interface {
	// Put stores a checkpoint envelope under (info.ThreadID, info.ID).
	Put(ctx context.Context, info Info, data []byte) error

	// Get retrieves a checkpoint envelope.
	// Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, threadID, id string) ([]byte, error)

	// Latest retrieves the most recent checkpoint envelope for a thread.
	// Returns ErrNotFound if the thread has no checkpoints.
	Latest(ctx context.Context, threadID string) ([]byte, error)

	// List returns metadata for all checkpoints of a thread, newest
	// first. Returns an empty slice (not an error) for unknown threads.
	List(ctx context.Context, threadID string) ([]Info, error)

	// Delete removes a specific checkpoint.
	// Returns nil if it doesn't exist.
	Delete(ctx context.Context, threadID, id string) error

	// DeleteThread removes all checkpoints for a thread.
	// Returns nil if the thread has none.
	DeleteThread(ctx context.Context, threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides checkpoint metadata without loading the envelope.
type Info struct {
	ThreadID  string    `json:"thread_id"`
	ID        string    `json:"id"`
	Step      int       `json:"step"`
	Parent    string    `json:"parent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
