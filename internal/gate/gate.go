// Package gate decides whether a found item's photo is worth an OCR pass.
package gate

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/reunite/internal/fetch"
	"github.com/hyperjump/reunite/internal/llm"
	"github.com/hyperjump/reunite/internal/models"
	"github.com/hyperjump/reunite/internal/prompts"
)

// MaxOutputTokens bounds the gate response.
const MaxOutputTokens = 400

// Merger writes fields onto a stored record.
type Merger interface {
	Merge(ctx context.Context, collection models.Collection, id string, fields map[string]any) error
}

// Gate classifies photos with a vision oracle and records the verdict on the found item.
type Gate struct {
	oracle  llm.Generator
	store   Merger
	prompts *prompts.Set
	model   string
	logger  *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithModel sets the oracle model.
func WithModel(model string) Option {
	return func(g *Gate) { g.model = model }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New returns a Gate.
func New(oracle llm.Generator, store Merger, p *prompts.Set, opts ...Option) *Gate {
	g := &Gate{oracle: oracle, store: store, prompts: p, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Classify asks the oracle whether OCR on img would find identifying text. The response must
// carry exactly the gate verdict keys with valid enum values. The verdict is merged onto
// foundItems/itemID; a failed merge is logged and does not fail the call.
func (g *Gate) Classify(ctx context.Context, itemID string, img *fetch.Image) (*models.GateVerdict, error) {
	verdict, err := llm.GenerateInto[models.GateVerdict](ctx, g.oracle, llm.Request{
		Task:            llm.TaskGate,
		Model:           g.model,
		Prompt:          g.prompts.Gate(),
		Inputs:          []llm.Part{llm.BlobPart(img.Data, img.MIMEType())},
		JSON:            true,
		MaxOutputTokens: MaxOutputTokens,
	}, models.GateVerdictKeys)
	if err != nil {
		return nil, err
	}
	verdict.NormalizeIdentifiers()

	if err := g.store.Merge(ctx, models.CollectionFound, itemID, verdict.Fields()); err != nil {
		g.logger.Warn("failed to store gate verdict", zap.String("item_id", itemID), zap.Error(err))
	}
	g.logger.Info("gate verdict",
		zap.String("item_id", itemID),
		zap.Bool("should_ocr", verdict.ShouldOCR),
		zap.String("doc_type", string(verdict.DocType)),
		zap.String("readability", string(verdict.Readability)))
	return verdict, nil
}
