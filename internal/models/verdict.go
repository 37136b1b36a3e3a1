package models

import "fmt"

// Candidate is one ranked counterpart of the query item.
type Candidate struct {
	CandidateID string `json:"candidate_id"`
	// Label is the lost item's description or the found item's name.
	Label     string  `json:"identifying_label"`
	ClipScore float64 `json:"clip_score"`
}

// Readability grades how legible identifying text in a photo is.
type Readability string

const (
	ReadabilityHigh   Readability = "high"
	ReadabilityMedium Readability = "medium"
	ReadabilityLow    Readability = "low"
	ReadabilityNone   Readability = "none"
)

// DocType classifies the object carrying text.
type DocType string

const (
	DocTypeIDCard     DocType = "id_card"
	DocTypePetTag     DocType = "pet_tag"
	DocTypeLuggageTag DocType = "luggage_tag"
	DocTypeLabel      DocType = "label"
	DocTypeSerial     DocType = "serial"
	DocTypeReceipt    DocType = "receipt"
	DocTypeScreen     DocType = "screen"
	DocTypeNone       DocType = "none"
	DocTypeOther      DocType = "other"
)

// Identifier kinds a gate may expect to find.
var IdentifierKinds = []string{"person_name", "pet_name", "id_number", "phone", "email", "serial", "address", "other"}

// Gate verdict field names, also used as store keys when the verdict is merged.
const (
	FieldShouldOCR         = "should_ocr"
	FieldReadability       = "readability"
	FieldDocType           = "doc_type"
	FieldLikelyIdentifiers = "likely_identifiers"
	FieldReason            = "reason"
)

// GateVerdictKeys is the exact key set a gate response must carry.
var GateVerdictKeys = []string{FieldShouldOCR, FieldReadability, FieldDocType, FieldLikelyIdentifiers, FieldReason}

// GateVerdict is the OCR gate's decision about a found item's photo.
type GateVerdict struct {
	ShouldOCR         bool        `json:"should_ocr"`
	Readability       Readability `json:"readability"`
	DocType           DocType     `json:"doc_type"`
	LikelyIdentifiers []string    `json:"likely_identifiers"`
	Reason            string      `json:"reason"`
}

// Validate checks the enum-valued fields.
func (g *GateVerdict) Validate() error {
	switch g.Readability {
	case ReadabilityHigh, ReadabilityMedium, ReadabilityLow, ReadabilityNone:
	default:
		return fmt.Errorf("invalid readability %q", g.Readability)
	}
	switch g.DocType {
	case DocTypeIDCard, DocTypePetTag, DocTypeLuggageTag, DocTypeLabel, DocTypeSerial,
		DocTypeReceipt, DocTypeScreen, DocTypeNone, DocTypeOther:
	default:
		return fmt.Errorf("invalid doc_type %q", g.DocType)
	}
	return nil
}

// NormalizeIdentifiers maps unknown identifier kinds to "other" and drops duplicates.
func (g *GateVerdict) NormalizeIdentifiers() {
	seen := make(map[string]bool, len(g.LikelyIdentifiers))
	out := make([]string, 0, len(g.LikelyIdentifiers))
	for _, id := range g.LikelyIdentifiers {
		if !validIdentifier(id) {
			id = "other"
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	g.LikelyIdentifiers = out
}

// Fields renders the verdict as a store merge payload.
func (g *GateVerdict) Fields() map[string]any {
	ids := make([]any, len(g.LikelyIdentifiers))
	for i, id := range g.LikelyIdentifiers {
		ids[i] = id
	}
	return map[string]any{
		FieldShouldOCR:         g.ShouldOCR,
		FieldReadability:       string(g.Readability),
		FieldDocType:           string(g.DocType),
		FieldLikelyIdentifiers: ids,
		FieldReason:            g.Reason,
	}
}

func validIdentifier(id string) bool {
	for _, k := range IdentifierKinds {
		if k == id {
			return true
		}
	}
	return false
}

// DecisionPacket is the evidence handed to the adjudicator.
type DecisionPacket struct {
	GivenID     string      `json:"given_id"`
	ScoreMargin float64     `json:"score_margin"`
	Candidates  []Candidate `json:"candidates"`
	ShouldOCR   bool        `json:"should_ocr"`
	OCRResults  string      `json:"ocr_results"`
}

// Decision is the adjudicated outcome.
type Decision string

const (
	DecisionMatch       Decision = "match"
	DecisionNoMatch     Decision = "no_match"
	DecisionNeedsReview Decision = "needs_review"
)

// FinalVerdictKeys is the exact key set an adjudication response must carry.
var FinalVerdictKeys = []string{"decision", "given_id", "matched_id", "confidence", "reasons"}

// FinalVerdict is the pipeline's answer for one item.
type FinalVerdict struct {
	Decision   Decision `json:"decision"`
	GivenID    string   `json:"given_id"`
	MatchedID  *string  `json:"matched_id"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// Validate checks the decision enum.
func (v *FinalVerdict) Validate() error {
	switch v.Decision {
	case DecisionMatch, DecisionNoMatch, DecisionNeedsReview:
		return nil
	}
	return fmt.Errorf("invalid decision %q", v.Decision)
}

// MatchRequest is the body of POST /match.
type MatchRequest struct {
	ItemID string `json:"itemId"`
}
