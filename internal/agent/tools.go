package agent

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/reunite/internal/imageproc"
	"github.com/hyperjump/reunite/internal/llm"
	"github.com/hyperjump/reunite/internal/prompts"
)

// ExtractMaxOutputTokens bounds a transcription.
const ExtractMaxOutputTokens = 1200

// LocalTools preprocesses images on disk and transcribes them with a vision oracle.
type LocalTools struct {
	vision  llm.Generator
	prompts *prompts.Set
	model   string
	outDir  string
}

// NewLocalTools returns tools writing preprocessed images to outDir (os.TempDir() when empty).
func NewLocalTools(vision llm.Generator, p *prompts.Set, model, outDir string) *LocalTools {
	if outDir == "" {
		outDir = os.TempDir()
	}
	return &LocalTools{vision: vision, prompts: p, model: model, outDir: outDir}
}

// Preprocess runs imageproc.Preprocess.
func (t *LocalTools) Preprocess(_ context.Context, path, op string, targetWidth int) (string, error) {
	return imageproc.Preprocess(path, op, targetWidth, t.outDir)
}

// Extract sends the image to the vision oracle and returns the trimmed transcription.
func (t *LocalTools) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/png"
	}
	text, err := t.vision.Generate(ctx, llm.Request{
		Task:            llm.TaskExtract,
		Model:           t.model,
		Prompt:          t.prompts.Extract(),
		Inputs:          []llm.Part{llm.BlobPart(data, mimeType)},
		MaxOutputTokens: ExtractMaxOutputTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
