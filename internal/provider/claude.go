package provider

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mailagent/internal/domain"
)

const (
	claudeAPIURL       = "https://api.anthropic.com/v1/messages"
	claudeAPIVersion   = "2023-06-01"
	claudeDefaultModel = "claude-sonnet-4-5"
	defaultMaxTokens   = 4096
	defaultHTTPTimeout = 120 * time.Second
)

// Claude talks to the Anthropic Messages API.
type Claude struct {
	url    string
	model  string
	key    string
	header http.Header
	client *http.Client
	logger *slog.Logger
}

type ClaudeConfig struct {
	APIKey  string
	APIBase string // full messages endpoint
	Model   string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
	}
	if cfg.APIBase == "" {
		cfg.APIBase = claudeAPIURL
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := http.Header{}
	h.Set("x-api-key", cfg.APIKey)
	h.Set("anthropic-version", claudeAPIVersion)
	return &Claude{
		url:    cfg.APIBase,
		model:  cfg.Model,
		key:    cfg.APIKey,
		header: h,
		client: cfg.Client,
		logger: cfg.Logger.With("provider", "claude"),
	}
}

func (c *Claude) Name() string              { return "claude" }
func (c *Claude) Mode() domain.ProviderMode { return domain.ModeAPI }
func (c *Claude) SupportsToolCalling() bool { return true }
func (c *Claude) Models() []string {
	return []string{"claude-sonnet-4-5", "claude-opus-4-1", "claude-3-5-haiku-latest"}
}

// Healthy only checks configuration; the API has no free probe endpoint.
func (c *Claude) Healthy(context.Context) error {
	if c.key == "" {
		return errors.New("claude: no API key configured")
	}
	return nil
}

type (
	messagesRequest struct {
		Model       string     `json:"model"`
		MaxTokens   int        `json:"max_tokens"`
		System      string     `json:"system,omitempty"`
		Messages    []turn     `json:"messages"`
		Tools       []toolSpec `json:"tools,omitempty"`
		Temperature float64    `json:"temperature"`
	}
	// turn content is either a string or []block.
	turn struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}
	block struct {
		Type      string `json:"type"` // text, tool_use, tool_result
		Text      string `json:"text,omitempty"`
		ID        string `json:"id,omitempty"`
		Name      string `json:"name,omitempty"`
		Input     any    `json:"input,omitempty"`
		ToolUseID string `json:"tool_use_id,omitempty"`
		Content   string `json:"content,omitempty"`
	}
	toolSpec struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"input_schema"`
	}
	messagesResponse struct {
		Content    []block `json:"content"`
		StopReason string  `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
)

// schemaInstruction asks for JSON output, since the Messages API has no
// native response schema.
func schemaInstruction(rs *domain.ResponseSchema) string {
	schema, _ := json.MarshalIndent(rs.Schema, "", "  ")
	return "Respond only with a single JSON object, without prose or code fences, that validates against this JSON schema:\n" + string(schema)
}

// toTurns hoists system messages into the system prompt and folds tool
// results into user turns, merging consecutive results into one turn.
func toTurns(msgs []domain.Message) (system []string, turns []turn) {
	for _, m := range msgs {
		switch {
		case m.Role == "system":
			system = append(system, m.Content)
		case m.Role == "tool":
			result := block{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
			if n := len(turns); n > 0 && turns[n-1].Role == "user" {
				if blocks, ok := turns[n-1].Content.([]block); ok {
					turns[n-1].Content = append(blocks, result)
					continue
				}
			}
			turns = append(turns, turn{Role: "user", Content: []block{result}})
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			blocks := make([]block, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, block{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, block{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
			}
			turns = append(turns, turn{Role: "assistant", Content: blocks})
		default:
			turns = append(turns, turn{Role: m.Role, Content: m.Content})
		}
	}
	return system, turns
}

func (c *Claude) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	system, turns := toTurns(req.Messages)
	if req.ResponseSchema != nil {
		system = append(system, schemaInstruction(req.ResponseSchema))
	}
	body := messagesRequest{
		Model:       cmp.Or(req.Model, c.model),
		MaxTokens:   req.MaxTokens,
		System:      strings.Join(system, "\n\n"),
		Messages:    turns,
		Temperature: req.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, toolSpec{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	var res messagesResponse
	if err := postJSON(ctx, c.client, "claude", c.url, c.header, body, &res, c.logger); err != nil {
		return nil, err
	}

	out := &domain.ChatResponse{
		FinishReason: res.StopReason,
		Usage: domain.Usage{
			PromptTokens:     res.Usage.InputTokens,
			CompletionTokens: res.Usage.OutputTokens,
			TotalTokens:      res.Usage.InputTokens + res.Usage.OutputTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}
	var text strings.Builder
	for _, b := range res.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
			out.Parts = append(out.Parts, domain.ContentPart{Type: "text", Text: b.Text})
		case "tool_use":
			args, _ := b.Input.(map[string]any)
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
			out.Parts = append(out.Parts, domain.ContentPart{
				Type: "tool_use",
				Raw:  map[string]any{"id": b.ID, "name": b.Name, "input": args},
			})
		}
	}
	out.Content = text.String()
	return out, nil
}
