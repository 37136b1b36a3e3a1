// Package adjudicator turns ranked candidates and OCR evidence into a final verdict.
package adjudicator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hyperjump/reunite/internal/llm"
	"github.com/hyperjump/reunite/internal/models"
	"github.com/hyperjump/reunite/internal/prompts"
)

// MaxOutputTokens bounds the adjudication response.
const MaxOutputTokens = 400

// Query is the item being matched: a lost item's description or a found item's photo.
type Query struct {
	Text     string
	Image    []byte
	MIMEType string
}

// TextQuery returns a text query.
func TextQuery(text string) Query { return Query{Text: text} }

// ImageQuery returns an image query.
func ImageQuery(data []byte, mimeType string) Query { return Query{Image: data, MIMEType: mimeType} }

func (q Query) part() (llm.Part, error) {
	if len(q.Image) > 0 {
		mimeType := q.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		return llm.BlobPart(q.Image, mimeType), nil
	}
	if q.Text == "" {
		return llm.Part{}, errors.New("empty adjudication query")
	}
	return llm.TextPart(q.Text), nil
}

// Adjudicator asks an oracle for the final decision.
type Adjudicator struct {
	oracle  llm.Generator
	prompts *prompts.Set
	model   string
	logger  *zap.Logger
}

// Option configures an Adjudicator.
type Option func(*Adjudicator)

// WithModel sets the oracle model.
func WithModel(model string) Option {
	return func(a *Adjudicator) { a.model = model }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adjudicator) { a.logger = l }
}

// New returns an Adjudicator.
func New(oracle llm.Generator, p *prompts.Set, opts ...Option) *Adjudicator {
	a := &Adjudicator{oracle: oracle, prompts: p, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Adjudicate sends the rule prompt, the query and the packet to the oracle. The response
// must carry exactly the verdict keys with a valid decision; anything else is an
// *llm.SchemaError and is not retried.
func (a *Adjudicator) Adjudicate(ctx context.Context, q Query, packet *models.DecisionPacket) (*models.FinalVerdict, error) {
	part, err := q.part()
	if err != nil {
		return nil, err
	}
	verdict, err := llm.GenerateInto[models.FinalVerdict](ctx, a.oracle, llm.Request{
		Task:            llm.TaskAdjudicate,
		Model:           a.model,
		Prompt:          a.prompts.Adjudicate(),
		Inputs:          []llm.Part{part},
		Context:         packet,
		JSON:            true,
		MaxOutputTokens: MaxOutputTokens,
	}, models.FinalVerdictKeys)
	if err != nil {
		return nil, err
	}
	if verdict.Reasons == nil {
		verdict.Reasons = []string{}
	}

	fields := []zap.Field{
		zap.String("given_id", packet.GivenID),
		zap.String("decision", string(verdict.Decision)),
		zap.Float64("confidence", verdict.Confidence),
		zap.Float64("margin", packet.ScoreMargin),
	}
	if verdict.MatchedID != nil {
		fields = append(fields, zap.String("matched_id", *verdict.MatchedID))
	}
	a.logger.Info("adjudicated", fields...)
	return verdict, nil
}
