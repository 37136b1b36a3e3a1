package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Gemini implements Oracle on the Gemini API. Calls are paced by a token bucket;
// nothing is retried.
type Gemini struct {
	client  *genai.Client
	limiter *rate.Limiter
	model   string
	logger  *zap.Logger
}

// GeminiOption configures a Gemini oracle.
type GeminiOption func(*Gemini)

// WithDefaultModel sets the model used when a request leaves Model empty.
func WithDefaultModel(model string) GeminiOption {
	return func(g *Gemini) { g.model = model }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GeminiOption {
	return func(g *Gemini) { g.logger = l }
}

// NewGemini creates a Gemini API client. requestsPerSecond <= 0 disables pacing.
func NewGemini(ctx context.Context, apiKey string, requestsPerSecond float64, opts ...GeminiOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	g := &Gemini{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		model:   "gemini-2.0-flash",
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate runs a single-shot generation at temperature 0.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var parts []*genai.Part
	if req.Prompt != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	for _, p := range req.Inputs {
		parts = append(parts, toGenaiPart(p))
	}
	if req.Context != nil {
		data, err := json.MarshalIndent(req.Context, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal %s context: %w", req.Task, err)
		}
		parts = append(parts, genai.NewPartFromText(string(data)))
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	model := g.modelFor(req.Model)
	resp, err := g.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	g.logger.Debug("oracle response",
		zap.String("task", req.Task),
		zap.String("model", model),
		zap.Int("chars", len(text)))
	return text, nil
}

// Chat runs one dispatch of a tool-calling conversation.
func (g *Gemini) Chat(ctx context.Context, req ChatRequest) (*Reply, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, toGenaiContent(m))
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, toFunctionDeclaration(t))
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelFor(req.Model), contents, cfg)
	if err != nil {
		return nil, err
	}
	reply := &Reply{}
	for _, fc := range resp.FunctionCalls() {
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
	}
	if len(reply.ToolCalls) == 0 {
		reply.Text = resp.Text()
	}
	return reply, nil
}

func (g *Gemini) modelFor(model string) string {
	if model == "" {
		return g.model
	}
	return model
}

func toGenaiPart(p Part) *genai.Part {
	if len(p.Data) > 0 {
		return genai.NewPartFromBytes(p.Data, p.MIMEType)
	}
	return genai.NewPartFromText(p.Text)
}

func toGenaiContent(m Message) *genai.Content {
	var parts []*genai.Part
	if m.Text != "" {
		parts = append(parts, genai.NewPartFromText(m.Text))
	}
	for _, c := range m.ToolCalls {
		parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: c.ID, Name: c.Name, Args: c.Args}})
	}
	for _, r := range m.ToolResults {
		parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Output}})
	}
	var role genai.Role = genai.RoleUser
	if m.Role == RoleModel {
		role = genai.RoleModel
	}
	return genai.NewContentFromParts(parts, role)
}

func toFunctionDeclaration(t Tool) *genai.FunctionDeclaration {
	schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	for _, p := range t.Params {
		typ := genai.TypeString
		if p.Type == "integer" {
			typ = genai.TypeInteger
		}
		schema.Properties[p.Name] = &genai.Schema{Type: typ, Description: p.Description, Enum: p.Enum}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: schema}
}
