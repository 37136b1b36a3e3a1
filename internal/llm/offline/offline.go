// Package offline provides a deterministic oracle for development without an API key.
// The gate never recommends OCR and adjudication follows adjudicator.MarginPolicy.
package offline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/reunite/internal/adjudicator"
	"github.com/hyperjump/reunite/internal/llm"
	"github.com/hyperjump/reunite/internal/models"
)

// Oracle implements llm.Oracle without network access.
type Oracle struct {
	logger *zap.Logger
}

// New returns an offline Oracle.
func New(logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{logger: logger}
}

// Generate answers by task.
func (o *Oracle) Generate(_ context.Context, req llm.Request) (string, error) {
	o.logger.Debug("offline oracle", zap.String("task", req.Task))
	switch req.Task {
	case llm.TaskGate:
		return marshal(&models.GateVerdict{
			ShouldOCR:         false,
			Readability:       models.ReadabilityNone,
			DocType:           models.DocTypeNone,
			LikelyIdentifiers: []string{},
			Reason:            "offline oracle does not inspect images",
		})
	case llm.TaskAdjudicate:
		packet, err := decisionPacket(req.Context)
		if err != nil {
			return "", err
		}
		return marshal(adjudicator.MarginPolicy(packet))
	case llm.TaskExtract:
		return "", nil
	}
	return "", fmt.Errorf("offline oracle: unsupported task %q", req.Task)
}

// Chat ends every conversation immediately with no text.
func (o *Oracle) Chat(_ context.Context, _ llm.ChatRequest) (*llm.Reply, error) {
	return &llm.Reply{}, nil
}

func decisionPacket(v any) (*models.DecisionPacket, error) {
	if p, ok := v.(*models.DecisionPacket); ok {
		return p, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("offline oracle: failed to encode context: %w", err)
	}
	var p models.DecisionPacket
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("offline oracle: context is not a decision packet: %w", err)
	}
	return &p, nil
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
