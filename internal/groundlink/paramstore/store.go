// Package paramstore keeps the parameter sets received from the flight
// controller: a local SQLite history and an optional S3 archive.
package paramstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("parameter snapshot not found")

// Snapshot is one complete parameter set.
type Snapshot struct {
	ID         int64              `json:"id"`
	LinkID     string             `json:"linkId"`
	ReceivedAt time.Time          `json:"receivedAt"`
	Values     map[string]float32 `json:"values"`
}

// Summary describes a stored snapshot without its values.
type Summary struct {
	ID         int64     `json:"id"`
	LinkID     string    `json:"linkId"`
	ReceivedAt time.Time `json:"receivedAt"`
	Count      int       `json:"count"`
}

// Store is a queryable snapshot history.
type Store interface {
	// Save stores s and returns its id.
	Save(ctx context.Context, s Snapshot) (int64, error)
	Latest(ctx context.Context, linkID string) (Snapshot, error)
	Get(ctx context.Context, id int64) (Snapshot, error)
	// List returns the newest limit summaries of linkID, newest first.
	List(ctx context.Context, linkID string, limit int) ([]Summary, error)
	Close() error
}

// Archive is write-only long term storage.
type Archive interface {
	// Put uploads s and returns the object key.
	Put(ctx context.Context, s Snapshot) (string, error)
	// URL returns a time limited download link for key.
	URL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
