// Package cli provides output helpers for the reunite command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hyperjump/reunite/internal/catalog"
	"github.com/hyperjump/reunite/internal/models"
	"github.com/hyperjump/reunite/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// SearchResponse is the body of GET /api/v1/items/search.
type SearchResponse struct {
	Query string        `json:"query"`
	Total int           `json:"total"`
	Hits  []catalog.Hit `json:"hits"`
}

const separator = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteVerdict writes a match verdict to w in the given format.
func WriteVerdict(w io.Writer, v *models.FinalVerdict, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, v)
	}
	matched := "-"
	if v.MatchedID != nil {
		matched = *v.MatchedID
	}
	fmt.Fprintf(w, "\nItem:       %s\n", v.GivenID)
	fmt.Fprintf(w, "Decision:   %s\n", v.Decision)
	fmt.Fprintf(w, "Matched:    %s\n", matched)
	fmt.Fprintf(w, "Confidence: %.2f\n", v.Confidence)
	if len(v.Reasons) > 0 {
		fmt.Fprintln(w, "Reasons:")
		for _, r := range v.Reasons {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
	fmt.Fprintln(w)
	return nil
}

// WriteSearchResults writes keyword search hits to w in the given format.
func WriteSearchResults(w io.Writer, resp *SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d items for %q\n\n", resp.Total, resp.Query)
	for i, hit := range resp.Hits {
		fmt.Fprintln(w, separator)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, hit.Score)
		writeRecordText(w, hit.Record)
	}
	return nil
}

// WriteRecord writes a single stored item to w in the given format.
func WriteRecord(w io.Writer, rec *models.Record, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rec)
	}
	fmt.Fprintln(w)
	writeRecordText(w, rec)
	return nil
}

func writeRecordText(w io.Writer, rec *models.Record) {
	fmt.Fprintf(w, "ID: %s (%s)\n", rec.ID, rec.Collection)
	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		val := fmt.Sprint(rec.Fields[k])
		fmt.Fprintf(w, "  %s: %s\n", k, utils.Truncate(val, 200))
	}
	fmt.Fprintln(w)
}
