// Package storage provides the key/value abstraction that user records are
// persisted through. Values are opaque bytes grouped by bucket and record
// type; each backend (memory, BBolt, PostgreSQL) keeps the same key space.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// Item is a stored value and its optimistic-concurrency version.
type Item struct {
	Data    []byte `json:"data"`
	Version uint64 `json:"version,omitempty"`
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	return &Item{Data: append([]byte(nil), it.Data...), Version: it.Version}
}

// BatchTx provides reads and writes within an atomic transaction.
// The bucket is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Get(recordType string, recordID string) (*Item, error)
	Put(recordType string, recordID string, item *Item) error
	PutCAS(recordType string, recordID string, expectedVersion uint64, item *Item) error
	Delete(recordType string, recordID string) error
}

// Repository defines the interface for record storage.
//
// PutCAS with expectedVersion 0 is create-only; any other value requires the
// stored item's Version to match.
type Repository interface {
	Put(ctx context.Context, bucket string, recordType string, recordID string, item *Item) error
	Get(ctx context.Context, bucket string, recordType string, recordID string) (*Item, error)
	List(ctx context.Context, bucket string, recordType string) ([]string, error)
	Delete(ctx context.Context, bucket string, recordType string, recordID string) error
	PutCAS(ctx context.Context, bucket string, recordType string, recordID string, expectedVersion uint64, item *Item) error
	Batch(ctx context.Context, bucket string, fn func(tx BatchTx) error) error
}
