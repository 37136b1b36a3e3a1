// Package llm defines the language-model capabilities the pipeline depends on and
// validates their structured output at the boundary.
package llm

import "context"

// Tasks name each oracle use. Providers may log or dispatch on them.
const (
	TaskGate       = "gate"
	TaskAdjudicate = "adjudicate"
	TaskExtract    = "extract_text"
	TaskAgent      = "agent"
)

// Part is one piece of multimodal input: text, or inline bytes with a MIME type.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

// TextPart returns a text part.
func TextPart(s string) Part { return Part{Text: s} }

// BlobPart returns an inline data part.
func BlobPart(data []byte, mimeType string) Part { return Part{Data: data, MIMEType: mimeType} }

// Request is a single-shot generation at temperature 0.
type Request struct {
	Task   string
	Model  string
	Prompt string
	Inputs []Part
	// Context is serialized as JSON and appended after Inputs.
	Context         any
	JSON            bool
	MaxOutputTokens int32
}

// Generator runs single-shot generations and returns the raw response text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Role is a conversation participant.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ToolParam describes one argument of a tool. Type is "string" or "integer".
type ToolParam struct {
	Name        string
	Type        string
	Description string
	Enum        []string
	Required    bool
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Params      []ToolParam
}

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult answers a ToolCall.
type ToolResult struct {
	ID     string
	Name   string
	Output map[string]any
}

// Message is one conversation turn. A model turn may carry ToolCalls; the following
// user turn carries the matching ToolResults.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ChatRequest is one dispatch of a tool-calling conversation.
type ChatRequest struct {
	Model           string
	System          string
	Messages        []Message
	Tools           []Tool
	MaxOutputTokens int32
}

// Reply is the model's next turn. No ToolCalls means the conversation is finished.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCaller runs one step of a tool-calling conversation.
type ToolCaller interface {
	Chat(ctx context.Context, req ChatRequest) (*Reply, error)
}

// Oracle provides both capabilities.
type Oracle interface {
	Generator
	ToolCaller
}
