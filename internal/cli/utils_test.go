package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/reunite/internal/catalog"
	"github.com/hyperjump/reunite/internal/models"
)

func TestWriteVerdict_JSON(t *testing.T) {
	matched := "F2"
	v := &models.FinalVerdict{
		Decision:   models.DecisionMatch,
		GivenID:    "L1",
		MatchedID:  &matched,
		Confidence: 0.9,
		Reasons:    []string{"student number on card"},
	}
	var buf bytes.Buffer
	if err := WriteVerdict(&buf, v, OutputJSON); err != nil {
		t.Fatalf("WriteVerdict(json): %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	for _, k := range models.FinalVerdictKeys {
		if _, ok := decoded[k]; !ok {
			t.Errorf("missing key %q in %s", k, buf.String())
		}
	}
	if decoded["matched_id"] != "F2" {
		t.Errorf("matched_id = %v", decoded["matched_id"])
	}
}

func TestWriteVerdict_text(t *testing.T) {
	v := &models.FinalVerdict{
		Decision:   models.DecisionNoMatch,
		GivenID:    "F7",
		Confidence: 0.6,
		Reasons:    []string{"top candidates are nearly tied"},
	}
	var buf bytes.Buffer
	if err := WriteVerdict(&buf, v, OutputText); err != nil {
		t.Fatalf("WriteVerdict(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"Item:       F7", "no_match", "Matched:    -", "0.60", "nearly tied"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteSearchResults(t *testing.T) {
	resp := &SearchResponse{
		Query: "wallet",
		Total: 1,
		Hits: []catalog.Hit{{
			Score: 1.25,
			Record: &models.Record{
				ID:         "L3",
				Collection: models.CollectionLost,
				Fields:     map[string]any{models.FieldDescription: "brown wallet", models.FieldColor: "brown"},
			},
		}},
	}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteSearchResults(&buf, resp, OutputText); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, sub := range []string{`Found 1 items for "wallet"`, "Rank: 1", "Score: 1.2500", "ID: L3 (lostItems)", "color: brown", "description: brown wallet"} {
			if !strings.Contains(out, sub) {
				t.Errorf("text output missing %q:\n%s", sub, out)
			}
		}
		if strings.Index(out, "color:") > strings.Index(out, "description:") {
			t.Error("fields should be sorted by key")
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteSearchResults(&buf, resp, OutputJSON); err != nil {
			t.Fatal(err)
		}
		var decoded SearchResponse
		if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
			t.Fatal(err)
		}
		if decoded.Total != 1 || len(decoded.Hits) != 1 || decoded.Hits[0].Record.ID != "L3" {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("unknown format treated as text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteSearchResults(&buf, &SearchResponse{Query: "x"}, OutputFormat("yaml")); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "Found 0 items") {
			t.Errorf("got %q", buf.String())
		}
	})
}

func TestWriteRecord(t *testing.T) {
	rec := &models.Record{
		ID:         "F1",
		Collection: models.CollectionFound,
		Fields:     map[string]any{models.FieldImageURL: "https://i.ibb.co/f1.jpg", models.FieldOCROutput: strings.Repeat("a", 300)},
	}
	var buf bytes.Buffer
	if err := WriteRecord(&buf, rec, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "imageUrl: https://i.ibb.co/f1.jpg") {
		t.Errorf("missing imageUrl:\n%s", out)
	}
	if !strings.Contains(out, strings.Repeat("a", 200)+"...") || strings.Contains(out, strings.Repeat("a", 201)) {
		t.Errorf("long field should be truncated:\n%s", out)
	}
}
