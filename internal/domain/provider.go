package domain

import "context"

type ProviderMode string

const (
	ModeAPI ProviderMode = "api"
)

// Provider is the interface all LLM providers must implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Mode() ProviderMode
	Models() []string
	SupportsToolCalling() bool
	Healthy(ctx context.Context) error
}

// ResponseSchema asks the provider for a JSON object matching Schema.
type ResponseSchema struct {
	Name   string
	Schema map[string]any
}

type ChatRequest struct {
	Messages       []Message
	Tools          []ToolDefinition
	Model          string
	MaxTokens      int
	Temperature    float64
	ResponseSchema *ResponseSchema // optional: structured output
}

// ContentPart is one typed block of a model turn, as returned by providers
// that answer with a list of parts instead of a plain string.
type ContentPart struct {
	Type string         `json:"type"` // text | tool_use | thought | ...
	Text string         `json:"text,omitempty"`
	Raw  map[string]any `json:"raw,omitempty"`
}

type ChatResponse struct {
	Content      string
	Parts        []ContentPart
	ToolCalls    []ToolCall
	FinishReason string // stop | tool_calls | length
	Usage        Usage
	LatencyMs    int64 // time taken for this LLM call in milliseconds
}

func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

type Message struct {
	Role       string     `json:"role"` // system | user | assistant | tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of one ToolCall.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
