package provider

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"mailagent/internal/domain"
)

const (
	openAIDefaultBase  = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAI talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAI struct {
	base   string
	model  string
	header http.Header
	client *http.Client
	logger *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = openAIDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := http.Header{}
	if cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return &OpenAI{
		base:   cfg.APIBase,
		model:  cfg.Model,
		header: h,
		client: cfg.Client,
		logger: cfg.Logger.With("provider", "openai"),
	}
}

func (o *OpenAI) Name() string              { return "openai" }
func (o *OpenAI) Mode() domain.ProviderMode { return domain.ModeAPI }
func (o *OpenAI) Models() []string          { return []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"} }
func (o *OpenAI) SupportsToolCalling() bool { return true }

// Healthy lists models, which checks both reachability and the key.
func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.base+"/models", nil)
	if err != nil {
		return err
	}
	req.Header = o.header.Clone()
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Provider: "openai", Code: resp.StatusCode, Body: http.StatusText(resp.StatusCode)}
	}
	return nil
}

// Wire types for /chat/completions.
type (
	completionRequest struct {
		Model          string          `json:"model"`
		Messages       []chatMessage   `json:"messages"`
		Tools          []functionTool  `json:"tools,omitempty"`
		MaxTokens      int             `json:"max_tokens,omitempty"`
		Temperature    float64         `json:"temperature"`
		ResponseFormat *responseFormat `json:"response_format,omitempty"`
	}
	responseFormat struct {
		Type       string     `json:"type"`
		JSONSchema namedShape `json:"json_schema"`
	}
	namedShape struct {
		Name   string         `json:"name"`
		Schema map[string]any `json:"schema"`
	}
	chatMessage struct {
		Role       string         `json:"role"`
		Content    string         `json:"content"`
		ToolCalls  []functionCall `json:"tool_calls,omitempty"`
		ToolCallID string         `json:"tool_call_id,omitempty"`
		Name       string         `json:"name,omitempty"`
	}
	functionTool struct {
		Type     string      `json:"type"`
		Function functionDef `json:"function"`
	}
	functionDef struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}
	functionCall struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
	completionResponse struct {
		Choices []struct {
			Message      chatMessage `json:"message"`
			FinishReason string      `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
)

func (o *OpenAI) buildRequest(req domain.ChatRequest) completionRequest {
	out := completionRequest{
		Model:       cmp.Or(req.Model, o.model),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		cm := chatMessage{Role: m.Role, Content: m.Content}
		if m.ToolCallID != "" {
			cm.ToolCallID, cm.Name = m.ToolCallID, m.ToolName
		}
		for _, tc := range m.ToolCalls {
			var fc functionCall
			fc.ID, fc.Type = tc.ID, "function"
			fc.Function.Name = tc.Name
			args, _ := json.Marshal(tc.Arguments)
			fc.Function.Arguments = string(args)
			cm.ToolCalls = append(cm.ToolCalls, fc)
		}
		out.Messages = append(out.Messages, cm)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, functionTool{
			Type:     "function",
			Function: functionDef{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	if rs := req.ResponseSchema; rs != nil {
		out.ResponseFormat = &responseFormat{Type: "json_schema", JSONSchema: namedShape{Name: rs.Name, Schema: rs.Schema}}
	}
	return out
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	var res completionResponse
	if err := postJSON(ctx, o.client, "openai", o.base+"/chat/completions", o.header, o.buildRequest(req), &res, o.logger); err != nil {
		return nil, err
	}

	out := &domain.ChatResponse{
		FinishReason: "stop",
		Usage: domain.Usage{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if len(res.Choices) == 0 {
		return out, nil
	}

	choice := res.Choices[0]
	out.Content, out.FinishReason = choice.Message.Content, choice.FinishReason
	for _, fc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if err := json.Unmarshal([]byte(fc.Function.Arguments), &args); err != nil || args == nil {
			o.logger.Warn("tool call arguments are not a JSON object", "tool", fc.Function.Name, "err", err)
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{ID: fc.ID, Name: fc.Function.Name, Arguments: args})
	}
	return out, nil
}
