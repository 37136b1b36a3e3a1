// Package catalog wraps an item store with id generation and a keyword index kept in
// sync on every write.
package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/reunite/internal/keyword"
	"github.com/hyperjump/reunite/internal/models"
	"github.com/hyperjump/reunite/internal/storage"
)

// DefaultSearchLimit is used when Search is called with a non-positive limit.
const DefaultSearchLimit = 20

// Hit is one search result with its stored record.
type Hit struct {
	Record *models.Record `json:"record"`
	Score  float64        `json:"score"`
}

// Catalog implements storage.Store on top of another Store.
type Catalog struct {
	storage.Store
	index  keyword.KeywordIndex
	logger *zap.Logger
}

// New returns a Catalog. A nil logger is replaced with a no-op logger.
func New(store storage.Store, index keyword.KeywordIndex, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{Store: store, index: index, logger: logger}
}

// Add creates a record, generating an id when id is empty, and returns the stored record.
func (c *Catalog) Add(ctx context.Context, collection models.Collection, id string, fields map[string]any) (*models.Record, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := c.Create(ctx, collection, id, fields); err != nil {
		return nil, err
	}
	return c.Get(ctx, collection, id)
}

// Create stores the record and indexes it. Index failures are logged; the store is authoritative.
func (c *Catalog) Create(ctx context.Context, collection models.Collection, id string, fields map[string]any) error {
	if id == "" {
		id = uuid.NewString()
	}
	if err := c.Store.Create(ctx, collection, id, fields); err != nil {
		return err
	}
	c.reindex(ctx, collection, id)
	return nil
}

// Merge updates the record and re-indexes it.
func (c *Catalog) Merge(ctx context.Context, collection models.Collection, id string, fields map[string]any) error {
	if err := c.Store.Merge(ctx, collection, id, fields); err != nil {
		return err
	}
	c.reindex(ctx, collection, id)
	return nil
}

func (c *Catalog) reindex(ctx context.Context, collection models.Collection, id string) {
	rec, err := c.Store.Get(ctx, collection, id)
	if err != nil {
		c.logger.Warn("failed to reload item for indexing", zap.String("collection", string(collection)), zap.String("item_id", id), zap.Error(err))
		return
	}
	if err := c.index.Index(ctx, keyword.DocumentFromRecord(rec)); err != nil {
		c.logger.Warn("failed to index item", zap.String("collection", string(collection)), zap.String("item_id", id), zap.Error(err))
	}
}

// Search runs a keyword query over both collections, or one when collection is set, and
// loads each hit's record. Hits whose record has since disappeared are skipped.
func (c *Catalog) Search(ctx context.Context, query string, collection models.Collection, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	results, err := c.index.Search(ctx, query, limit, &keyword.SearchOptions{
		Collection:   collection,
		TitleBoost:   2.0,
		PhraseBoost:  1.5,
		FuzzyEnabled: len(query) >= 5,
		Fuzziness:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		rec, err := c.Store.Get(ctx, r.Collection, r.ItemID)
		if err != nil {
			c.logger.Debug("skipping stale search hit", zap.String("collection", string(r.Collection)), zap.String("item_id", r.ItemID), zap.Error(err))
			continue
		}
		hits = append(hits, Hit{Record: rec, Score: r.Score})
	}
	return hits, nil
}

// Rebuild re-indexes every stored item and returns the number indexed.
func (c *Catalog) Rebuild(ctx context.Context) (int, error) {
	n := 0
	for _, collection := range models.Collections {
		recs, err := c.Store.List(ctx, collection)
		if err != nil {
			return n, fmt.Errorf("failed to list %s: %w", collection, err)
		}
		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				return n, err
			}
			if err := c.index.Index(ctx, keyword.DocumentFromRecord(rec)); err != nil {
				return n, fmt.Errorf("failed to index %s/%s: %w", collection, rec.ID, err)
			}
			n++
		}
	}
	c.logger.Info("keyword index rebuilt", zap.Int("items", n))
	return n, nil
}

// Close closes the index and the underlying store.
func (c *Catalog) Close() error {
	indexErr := c.index.Close()
	if err := c.Store.Close(); err != nil {
		return err
	}
	return indexErr
}

// IndexedCount returns the number of indexed items.
func (c *Catalog) IndexedCount() (uint64, error) {
	return c.index.DocCount()
}
