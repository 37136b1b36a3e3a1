// Package storage defines the item store interface and its SQLite, Postgres and Firestore backends.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/reunite/internal/models"
)

// ErrNotFound is returned when a record does not exist in the requested collection.
var ErrNotFound = errors.New("record not found")

// Store provides keyed access to the lostItems and foundItems collections.
// Merge replaces only the given top-level fields; all other fields are kept.
type Store interface {
	Get(ctx context.Context, collection models.Collection, id string) (*models.Record, error)
	// List returns every record of a collection in creation order.
	List(ctx context.Context, collection models.Collection) ([]*models.Record, error)
	Create(ctx context.Context, collection models.Collection, id string, fields map[string]any) error
	Merge(ctx context.Context, collection models.Collection, id string, fields map[string]any) error
	Count(ctx context.Context, collection models.Collection) (int64, error)
	Close() error
}
