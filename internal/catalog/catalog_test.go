package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/reunite/internal/keyword"
	"github.com/hyperjump/reunite/internal/models"
	"github.com/hyperjump/reunite/internal/storage"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "items.db"))
	if err != nil {
		t.Fatal(err)
	}
	idx, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	c := New(store, idx, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCatalog_AddGeneratesID(t *testing.T) {
	c := newTestCatalog(t)
	rec, err := c.Add(context.Background(), models.CollectionLost, "", map[string]any{models.FieldDescription: "green water bottle"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" || rec.Collection != models.CollectionLost {
		t.Errorf("got %+v", rec)
	}

	hits, err := c.Search(context.Background(), "bottle", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Record.ID != rec.ID {
		t.Errorf("hits = %+v", hits)
	}
}

func TestCatalog_MergeReindexes(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	if err := c.Create(ctx, models.CollectionFound, "F1", map[string]any{
		models.FieldName:     "card",
		models.FieldImageURL: "https://i.ibb.co/f1.jpg",
	}); err != nil {
		t.Fatal(err)
	}
	if hits, _ := c.Search(ctx, "20231234", "", 10); len(hits) != 0 {
		t.Fatalf("unexpected hits before merge: %+v", hits)
	}

	if err := c.Merge(ctx, models.CollectionFound, "F1", map[string]any{models.FieldOCROutput: "JANE DOE 20231234"}); err != nil {
		t.Fatal(err)
	}
	hits, err := c.Search(ctx, "20231234", models.CollectionFound, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Record.String(models.FieldImageURL) == "" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestCatalog_MergeMissing(t *testing.T) {
	c := newTestCatalog(t)
	err := c.Merge(context.Background(), models.CollectionFound, "nope", map[string]any{"x": 1})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestCatalog_Rebuild(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "items.db"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	// Written behind the catalog's back, so not indexed yet.
	_ = store.Create(ctx, models.CollectionLost, "L1", map[string]any{models.FieldDescription: "silver laptop"})
	_ = store.Create(ctx, models.CollectionFound, "F1", map[string]any{models.FieldName: "laptop charger"})

	idx, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	c := New(store, idx, nil)
	defer func() { _ = c.Close() }()

	if hits, _ := c.Search(ctx, "laptop", "", 10); len(hits) != 0 {
		t.Fatalf("index should start empty, got %d hits", len(hits))
	}
	n, err := c.Rebuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Rebuild indexed %d, want 2", n)
	}
	if count, _ := c.IndexedCount(); count != 2 {
		t.Errorf("IndexedCount = %d", count)
	}
	hits, err := c.Search(ctx, "laptop", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Errorf("hits = %d, want 2", len(hits))
	}
}
