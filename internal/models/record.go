// Package models defines the item records, ranking candidates and verdicts shared by the pipeline.
package models

import (
	"fmt"
	"time"
)

// Collection names a document store collection.
type Collection string

const (
	CollectionLost  Collection = "lostItems"
	CollectionFound Collection = "foundItems"
)

// Collections lists every collection in lookup order.
var Collections = []Collection{CollectionLost, CollectionFound}

// ParseCollection accepts either the store name or the short forms "lost" and "found".
func ParseCollection(s string) (Collection, error) {
	switch s {
	case string(CollectionLost), "lost":
		return CollectionLost, nil
	case string(CollectionFound), "found":
		return CollectionFound, nil
	}
	return "", fmt.Errorf("unknown collection %q", s)
}

// Opposite returns the collection an item of c is matched against.
func (c Collection) Opposite() Collection {
	if c == CollectionLost {
		return CollectionFound
	}
	return CollectionLost
}

// Record is a raw store document. Fields is a flat key/value map; merges replace top-level keys.
type Record struct {
	ID         string         `json:"id"`
	Collection Collection     `json:"collection"`
	Fields     map[string]any `json:"fields"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// String returns the field as a string, or "" when absent or not a string.
func (r *Record) String(key string) string {
	if v, ok := r.Fields[key].(string); ok {
		return v
	}
	return ""
}

// Float returns the field as a float64. JSON and Firestore numbers are both accepted.
func (r *Record) Float(key string) (float64, bool) {
	switch v := r.Fields[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Bool returns the field as a bool and whether it was present.
func (r *Record) Bool(key string) (bool, bool) {
	v, ok := r.Fields[key].(bool)
	return v, ok
}

// Strings returns a list field as strings, skipping non-string entries.
func (r *Record) Strings(key string) []string {
	switch v := r.Fields[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// MergeFields copies src over dst key by key and returns dst.
func MergeFields(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
