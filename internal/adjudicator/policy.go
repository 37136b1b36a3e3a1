package adjudicator

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hyperjump/reunite/internal/models"
)

// Margin thresholds applied to top1 - top2.
const (
	MatchMargin     = 0.05
	AmbiguousMargin = 0.03
	NoMatchMargin   = 0.01
)

// MarginPolicy decides a packet without an oracle. An identifier token read by OCR that
// also appears in a candidate's label wins outright; otherwise the score margin decides.
// A lone candidate has no margin to judge and is sent to review.
func MarginPolicy(p *models.DecisionPacket) *models.FinalVerdict {
	v := &models.FinalVerdict{GivenID: p.GivenID, Reasons: []string{}}
	if len(p.Candidates) == 0 {
		v.Decision = models.DecisionNoMatch
		v.Reasons = append(v.Reasons, "no candidates")
		return v
	}

	if p.OCRResults != "" {
		for _, c := range p.Candidates {
			if tok := sharedIdentifier(p.OCRResults, c.Label); tok != "" {
				id := c.CandidateID
				v.Decision = models.DecisionMatch
				v.MatchedID = &id
				v.Confidence = 0.95
				v.Reasons = append(v.Reasons, fmt.Sprintf("OCR identifier %q appears in candidate label", tok))
				return v
			}
		}
	}

	top := p.Candidates[0]
	switch {
	case len(p.Candidates) == 1:
		v.Decision = models.DecisionNeedsReview
		v.Confidence = 0.5
		v.Reasons = append(v.Reasons, "single candidate; no margin to compare")
	case p.ScoreMargin >= MatchMargin:
		id := top.CandidateID
		v.Decision = models.DecisionMatch
		v.MatchedID = &id
		v.Confidence = clamp(0.6 + p.ScoreMargin)
		v.Reasons = append(v.Reasons, fmt.Sprintf("top candidate leads by %.3f", p.ScoreMargin))
	case p.ScoreMargin < NoMatchMargin:
		v.Decision = models.DecisionNoMatch
		v.Confidence = 0.6
		v.Reasons = append(v.Reasons, fmt.Sprintf("candidates indistinguishable (margin %.3f)", p.ScoreMargin))
	default:
		v.Decision = models.DecisionNeedsReview
		v.Confidence = 0.4
		if p.ScoreMargin < AmbiguousMargin {
			v.Reasons = append(v.Reasons, fmt.Sprintf("ambiguous ranking (margin %.3f)", p.ScoreMargin))
		} else {
			v.Reasons = append(v.Reasons, fmt.Sprintf("margin %.3f below match threshold", p.ScoreMargin))
		}
	}
	return v
}

// sharedIdentifier returns the first OCR token that looks like an identifier (an email,
// or at least four characters including a digit) and occurs in label.
func sharedIdentifier(ocr, label string) string {
	label = strings.ToLower(label)
	for _, tok := range strings.FieldsFunc(strings.ToLower(ocr), isSeparator) {
		if !looksLikeIdentifier(tok) {
			continue
		}
		if strings.Contains(label, tok) {
			return tok
		}
	}
	return ""
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(",;:()[]\"'", r)
}

func looksLikeIdentifier(tok string) bool {
	if strings.Contains(tok, "@") && strings.Contains(tok, ".") {
		return true
	}
	if len(tok) < 4 {
		return false
	}
	return strings.IndexFunc(tok, unicode.IsDigit) >= 0
}

func clamp(f float64) float64 {
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}
