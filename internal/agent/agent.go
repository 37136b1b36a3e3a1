// Package agent runs a bounded tool-calling loop that reads identifying text from a photo.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/reunite/internal/imageproc"
	"github.com/hyperjump/reunite/internal/llm"
	"github.com/hyperjump/reunite/internal/prompts"
)

// DefaultMaxTurns bounds the number of oracle dispatches per run.
const DefaultMaxTurns = 6

// MaxOutputTokens bounds each agent response.
const MaxOutputTokens = 800

// Tool names exposed to the oracle.
const (
	ToolPreprocess = "preprocess_image"
	ToolExtract    = "extract_text"
)

// ToolError wraps a tool failure that aborts the run.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string { return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err) }

func (e *ToolError) Unwrap() error { return e.Err }

// Tools executes the agent's tools. Preprocess returns the path of a new image;
// Extract returns the text read from an image.
type Tools interface {
	Preprocess(ctx context.Context, path, op string, targetWidth int) (string, error)
	Extract(ctx context.Context, path string) (string, error)
}

// Agent drives the DISPATCH / TOOL_EXEC loop.
type Agent struct {
	oracle   llm.ToolCaller
	tools    Tools
	prompts  *prompts.Set
	model    string
	maxTurns int
	width    int
	logger   *zap.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithModel sets the oracle model.
func WithModel(model string) Option {
	return func(a *Agent) { a.model = model }
}

// WithMaxTurns overrides DefaultMaxTurns.
func WithMaxTurns(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxTurns = n
		}
	}
}

// WithTargetWidth sets the default width passed to preprocess_image.
func WithTargetWidth(w int) Option {
	return func(a *Agent) {
		if w > 0 {
			a.width = w
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// New returns an Agent.
func New(oracle llm.ToolCaller, tools Tools, p *prompts.Set, opts ...Option) *Agent {
	a := &Agent{
		oracle:   oracle,
		tools:    tools,
		prompts:  p,
		maxTurns: DefaultMaxTurns,
		width:    imageproc.DefaultTargetWidth,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) toolSpecs() []llm.Tool {
	return []llm.Tool{
		{
			Name:        ToolPreprocess,
			Description: "Upscale and clean a photo for OCR. Writes a new PNG and returns its path.",
			Params: []llm.ToolParam{
				{Name: "img_path", Type: "string", Description: "Path of the image to process.", Required: true},
				{Name: "op", Type: "string", Description: "threshold or skew.", Enum: []string{"threshold", "skew"}},
				{Name: "target_width", Type: "integer", Description: "Minimum output width in pixels."},
			},
		},
		{
			Name:        ToolExtract,
			Description: "Read all visible text from an image and return it.",
			Params: []llm.ToolParam{
				{Name: "img_path", Type: "string", Description: "Path of the image to read.", Required: true},
			},
		},
	}
}

// run holds the state of one Run call.
type run struct {
	allowed  map[string]bool
	created  []string
	lastText string
}

// Run extracts text from the image at imagePath. The oracle must end the conversation
// within the turn limit; past it, Run returns the text of the last extract_text call or "".
// Files written by preprocess_image are removed before Run returns.
func (a *Agent) Run(ctx context.Context, imagePath string) (string, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return "", fmt.Errorf("image not found: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("image path %s is not a regular file", imagePath)
	}

	st := &run{allowed: map[string]bool{imagePath: true}}
	defer a.cleanup(st)

	req := llm.ChatRequest{
		Model:           a.model,
		System:          a.prompts.Agent(imagePath),
		Messages:        []llm.Message{{Role: llm.RoleUser, Text: a.prompts.AgentTask()}},
		Tools:           a.toolSpecs(),
		MaxOutputTokens: MaxOutputTokens,
	}

	for turn := 1; turn <= a.maxTurns; turn++ {
		// DISPATCH
		reply, err := a.oracle.Chat(ctx, req)
		if err != nil {
			return "", fmt.Errorf("agent dispatch failed: %w", err)
		}
		if len(reply.ToolCalls) == 0 {
			text := strings.TrimSpace(reply.Text)
			a.logger.Debug("agent finished", zap.Int("turns", turn), zap.Int("chars", len(text)))
			return text, nil
		}

		// TOOL_EXEC
		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleModel, Text: reply.Text, ToolCalls: reply.ToolCalls})
		results := make([]llm.ToolResult, 0, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			out, err := a.exec(ctx, st, call)
			if err != nil {
				return "", err
			}
			results = append(results, llm.ToolResult{ID: call.ID, Name: call.Name, Output: out})
		}
		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, ToolResults: results})
	}

	a.logger.Warn("agent turn limit reached", zap.Int("max_turns", a.maxTurns), zap.Bool("has_text", st.lastText != ""))
	return st.lastText, nil
}

func (a *Agent) exec(ctx context.Context, st *run, call llm.ToolCall) (map[string]any, error) {
	path, _ := call.Args["img_path"].(string)
	switch call.Name {
	case ToolPreprocess:
		if !st.allowed[path] {
			return nil, &ToolError{Tool: call.Name, Err: fmt.Errorf("unknown image path %q", path)}
		}
		op, _ := call.Args["op"].(string)
		if op == "" {
			op = imageproc.OpThreshold
		}
		out, err := a.tools.Preprocess(ctx, path, op, intArg(call.Args["target_width"], a.width))
		if err != nil {
			return nil, &ToolError{Tool: call.Name, Err: err}
		}
		st.allowed[out] = true
		st.created = append(st.created, out)
		return map[string]any{"output": out}, nil

	case ToolExtract:
		if !st.allowed[path] {
			a.logger.Warn("extract_text called with unknown path", zap.String("path", path))
			return map[string]any{"output": ""}, nil
		}
		text, err := a.tools.Extract(ctx, path)
		if err != nil {
			a.logger.Warn("extract_text failed", zap.String("path", path), zap.Error(err))
			text = ""
		}
		if text != "" {
			st.lastText = text
		}
		return map[string]any{"output": text}, nil
	}
	return map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)}, nil
}

func (a *Agent) cleanup(st *run) {
	for _, p := range st.created {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("failed to remove preprocessed image", zap.String("path", p), zap.Error(err))
		}
	}
}

// intArg reads a JSON number argument, falling back to def.
func intArg(v any, def int) int {
	switch n := v.(type) {
	case float64:
		if n > 0 {
			return int(n)
		}
	case int:
		if n > 0 {
			return n
		}
	case int64:
		if n > 0 {
			return int(n)
		}
	}
	return def
}
