// Package keyword provides keyword (BM25) search over lost and found items.
package keyword

import (
	"context"
	"strings"

	"github.com/hyperjump/reunite/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// Collection restricts hits to one collection. Empty searches both.
	Collection models.Collection
	// TitleBoost multiplies the score contribution from matches in the title (item name) field.
	// Values > 1 make name matches rank higher (e.g. 3.0). Use 1.0 for no boost.
	TitleBoost float64
	// PhraseBoost multiplies the score when query terms appear close together.
	PhraseBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default is 2.
	Fuzziness int
}

// Document is the indexed form of an item.
type Document struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

// DocID is the index key for an item. Lost and found ids may collide, so the collection is part of it.
func DocID(collection models.Collection, id string) string {
	return string(collection) + "/" + id
}

// SplitDocID reverses DocID.
func SplitDocID(docID string) (models.Collection, string) {
	c, id, ok := strings.Cut(docID, "/")
	if !ok {
		return "", docID
	}
	return models.Collection(c), id
}

// DocumentFromRecord builds the index document for a stored item. The title is the
// item's name; the content joins the free-text fields, including OCR output.
func DocumentFromRecord(rec *models.Record) *Document {
	var parts []string
	for _, k := range []string{models.FieldDescription, models.FieldColor, models.FieldLocation, models.FieldOCROutput} {
		if v := strings.TrimSpace(rec.String(k)); v != "" {
			parts = append(parts, v)
		}
	}
	return &Document{
		ID:         DocID(rec.Collection, rec.ID),
		Collection: string(rec.Collection),
		Title:      rec.String(models.FieldName),
		Content:    strings.Join(parts, "\n"),
	}
}

// KeywordIndex defines keyword search operations.
type KeywordIndex interface {
	Index(ctx context.Context, doc *Document) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	Close() error
	// DocCount returns the total number of documents in the index.
	DocCount() (uint64, error)
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	Collection models.Collection
	ItemID     string
	Score      float64
}
