package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/reunite/internal/models"
)

func indexItems(t *testing.T, idx *BleveIndex, recs ...*models.Record) {
	t.Helper()
	for _, rec := range recs {
		if err := idx.Index(context.Background(), DocumentFromRecord(rec)); err != nil {
			t.Fatalf("Index: %v", err)
		}
	}
}

func lost(id, description string) *models.Record {
	return &models.Record{ID: id, Collection: models.CollectionLost, Fields: map[string]any{models.FieldDescription: description}}
}

func found(id, name, ocr string) *models.Record {
	return &models.Record{ID: id, Collection: models.CollectionFound, Fields: map[string]any{
		models.FieldName:      name,
		models.FieldImageURL:  "https://i.ibb.co/" + id + ".jpg",
		models.FieldOCROutput: ocr,
	}}
}

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	indexItems(t, idx,
		lost("L1", "Black leather wallet with a student ID inside"),
		lost("L2", "Blue umbrella left on the bus"),
	)

	results, err := idx.Search(context.Background(), "wallet", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ItemID != "L1" || results[0].Collection != models.CollectionLost {
		t.Errorf("first result = %+v", results[0])
	}
}

func TestBleveIndex_SearchFindsOCRText(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	indexItems(t, idx, found("F1", "card", "UNIVERSITY OF TORONTO 20231234"), found("F2", "keys", ""))

	results, err := idx.Search(context.Background(), "20231234", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ItemID != "F1" {
		t.Errorf("results = %+v", results)
	}
}

func TestBleveIndex_CollectionFilter(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	// Same id in both collections must not collide.
	indexItems(t, idx, lost("X1", "red backpack"), found("X1", "red backpack", ""))

	all, err := idx.Search(context.Background(), "backpack", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d results, want 2", len(all))
	}

	only, err := idx.Search(context.Background(), "backpack", 10, &SearchOptions{Collection: models.CollectionFound})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(only) != 1 || only[0].Collection != models.CollectionFound {
		t.Errorf("filtered results = %+v", only)
	}
}

func TestBleveIndex_TitleBoost(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	indexItems(t, idx,
		found("F1", "headphones", "sony"),
		&models.Record{ID: "F2", Collection: models.CollectionFound, Fields: map[string]any{
			models.FieldName:        "bag",
			models.FieldDescription: "tote bag with headphones cable",
		}},
	)

	results, err := idx.Search(context.Background(), "headphones", 10, &SearchOptions{TitleBoost: 3, PhraseBoost: 1.5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ItemID != "F1" {
		t.Errorf("name match should rank first, got %+v", results[0])
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	indexItems(t, idx, lost("L1", "silver bracelet"))

	results, err := idx.Search(context.Background(), "braclet", 10, &SearchOptions{FuzzyEnabled: true, Fuzziness: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("fuzzy search should tolerate a typo, got %d results", len(results))
	}
}

func TestBleveIndex_ReindexReplaces(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	indexItems(t, idx, lost("L1", "green scarf"))
	indexItems(t, idx, lost("L1", "yellow hat"))

	ctx := context.Background()
	if res, _ := idx.Search(ctx, "scarf", 10, nil); len(res) != 0 {
		t.Errorf("stale content still indexed: %+v", res)
	}
	if res, _ := idx.Search(ctx, "hat", 10, nil); len(res) != 1 {
		t.Errorf("new content not indexed: %+v", res)
	}
	if n, err := idx.DocCount(); err != nil || n != 1 {
		t.Errorf("DocCount = %d, %v", n, err)
	}
}

func TestBleveIndex_Delete(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	ctx := context.Background()
	indexItems(t, idx, lost("L1", "onlyinl1"))

	if err := idx.Delete(ctx, DocID(models.CollectionLost, "L1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	results, err := idx.Search(ctx, "onlyinl1", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}
}

func TestBleveIndex_Reopen(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "sub", "bleve")
	idx, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	indexItems(t, idx, lost("L1", "persistent thermos"))
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(indexPath); err != nil {
		t.Fatalf("index path should exist: %v", err)
	}

	idx2, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex (reopen): %v", err)
	}
	defer func() {
		_ = idx2.Close()
	}()
	results, err := idx2.Search(context.Background(), "thermos", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("reopened index lost documents: %d results", len(results))
	}
}

func TestSplitDocID(t *testing.T) {
	c, id := SplitDocID(DocID(models.CollectionFound, "abc/def"))
	if c != models.CollectionFound || id != "abc/def" {
		t.Errorf("SplitDocID = %q, %q", c, id)
	}
}
