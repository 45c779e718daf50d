// Package store provides the memory record table interface and SQLite implementation.
package store

import (
	"context"
	"iter"
	"time"

	"github.com/wanyview/kaidison-system/internal/model"
)

// Order selects the sort order of a listing.
type Order int

const (
	// OrderRelevance sorts by importance desc, then newest first.
	OrderRelevance Order = iota
	// OrderChronological sorts oldest first.
	OrderChronological
	// OrderRetention sorts by importance desc, access count desc, then newest first.
	OrderRetention
)

// ListParams holds parameters for listing memories.
type ListParams struct {
	Layer model.Layer // empty means all layers
	Order Order
	// IncludeCorrupt yields rows whose context or keywords cannot be decoded,
	// with those fields left empty, instead of skipping them.
	IncludeCorrupt bool
}

// Store defines the memory record table.
type Store interface {
	// Insert adds a new record. Fails with model.ErrDuplicateID if the id exists.
	Insert(ctx context.Context, rec model.Record) error

	// Get returns the record with the given id or model.ErrNotFound.
	Get(ctx context.Context, id string) (*model.Record, error)

	// UpdateAccess bumps the access counter and stamps the access time.
	// Returns model.ErrNotFound if the id is absent.
	UpdateAccess(ctx context.Context, id string, now time.Time) error

	// DeleteMany removes every listed record in one transaction and returns
	// how many existed.
	DeleteMany(ctx context.Context, ids []string) (int, error)

	// DeleteByLayer removes every record of layer (all layers when empty).
	DeleteByLayer(ctx context.Context, layer model.Layer) (int, error)

	// Scan lazily yields records; each call runs a fresh query.
	Scan(ctx context.Context, p ListParams) iter.Seq2[model.Record, error]

	// List materializes Scan.
	List(ctx context.Context, p ListParams) ([]model.Record, error)

	Count(ctx context.Context) (int, error)
	CountByLayer(ctx context.Context) (map[model.Layer]int, error)
	SumAccessCount(ctx context.Context) (int, error)
	CountByImportanceBand(ctx context.Context) (map[string]int, error)

	// Close closes the store.
	Close() error
}
