package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"mailagent/internal/domain"
)

const geminiDefaultModel = "gemini-2.5-flash"

// ContentGenerator is the part of *genai.Models used here. Tests substitute
// a stub.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGenAIClient builds a Vertex AI client for project/location, or a Gemini
// API client when apiKey is set.
func NewGenAIClient(ctx context.Context, project, location, apiKey string) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}
	if apiKey != "" {
		cc = &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return client, nil
}

type GeminiConfig struct {
	Models ContentGenerator
	Model  string
	Logger *slog.Logger
}

// Gemini implements domain.Provider on the Gen AI SDK.
type Gemini struct {
	models ContentGenerator
	model  string
	logger *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gemini{
		models: cfg.Models,
		model:  cfg.Model,
		logger: cfg.Logger.With("provider", "gemini"),
	}
}

func (g *Gemini) Name() string              { return "gemini" }
func (g *Gemini) Mode() domain.ProviderMode { return domain.ModeAPI }
func (g *Gemini) Models() []string          { return []string{"gemini-2.5-flash", "gemini-2.5-pro"} }
func (g *Gemini) SupportsToolCalling() bool { return true }

// ContentGenerator exposes the underlying client for multimodal callers.
func (g *Gemini) ContentGenerator() ContentGenerator { return g.models }

func (g *Gemini) Healthy(ctx context.Context) error {
	if g.models == nil {
		return fmt.Errorf("gemini: no client configured")
	}
	return nil
}

func (g *Gemini) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if g.models == nil {
		return nil, fmt.Errorf("gemini: no client configured")
	}
	start := time.Now()
	model := req.Model
	if model == "" {
		model = g.model
	}

	system, contents := geminiContents(req.Messages)

	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if rs := req.ResponseSchema; rs != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = rs.Schema
	}

	res, err := g.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	out := geminiResponse(res)
	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}

// geminiContents maps the conversation onto Gen AI contents. Consecutive tool
// results are merged into one user turn of function responses.
func geminiContents(msgs []domain.Message) (string, []*genai.Content) {
	var system []string
	var contents []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = append(system, m.Content)

		case "tool":
			part := genai.NewPartFromFunctionResponse(m.ToolName, map[string]any{"output": m.Content})
			part.FunctionResponse.ID = m.ToolCallID
			if n := len(contents); n > 0 && isFunctionResponseTurn(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))

		case "assistant":
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				part := genai.NewPartFromFunctionCall(tc.Name, tc.Arguments)
				part.FunctionCall.ID = tc.ID
				parts = append(parts, part)
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))

		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func isFunctionResponseTurn(c *genai.Content) bool {
	if c == nil || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func geminiResponse(res *genai.GenerateContentResponse) *domain.ChatResponse {
	out := &domain.ChatResponse{FinishReason: "stop"}
	if res == nil {
		return out
	}
	if u := res.UsageMetadata; u != nil {
		out.Usage = domain.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return out
	}

	cand := res.Candidates[0]
	if cand.FinishReason != "" {
		out.FinishReason = strings.ToLower(string(cand.FinishReason))
	}

	var texts []string
	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			args := p.FunctionCall.Args
			if args == nil {
				args = make(map[string]any)
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:        p.FunctionCall.ID,
				Name:      p.FunctionCall.Name,
				Arguments: args,
			})
			out.Parts = append(out.Parts, domain.ContentPart{
				Type: "function_call",
				Raw:  map[string]any{"name": p.FunctionCall.Name, "args": args},
			})
		case p.Thought:
			out.Parts = append(out.Parts, domain.ContentPart{Type: "thought", Text: p.Text})
		case p.Text != "":
			texts = append(texts, p.Text)
			out.Parts = append(out.Parts, domain.ContentPart{Type: "text", Text: p.Text})
		}
	}
	out.Content = strings.Join(texts, "")
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	return out
}
