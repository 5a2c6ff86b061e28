package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mailagent/internal/domain"
	"mailagent/internal/workflow"
)

// callLLM asks the reply model for either tool calls or the final reply.
// A provider error aborts the run.
func (a *Agent) callLLM(ctx context.Context, s State) (workflow.Patch[State], error) {
	h := s.Email.Headers()
	toolContext := s.ToolContext
	if toolContext == "" {
		toolContext = defaultToolContext
	}
	prompt, err := a.prompts.renderReply(replyInput{
		Sender:      h.Sender,
		Subject:     h.Subject,
		Date:        h.Date,
		Body:        s.Email.Body(),
		Attachments: s.AttachmentTexts,
		ToolContext: toolContext,
	})
	if err != nil {
		return nil, err
	}

	native := a.provider.SupportsToolCalling()
	defs := a.tools.Definitions()
	system := a.prompts.System
	if !native {
		system += "\n\n" + toolInstructions(defs)
	}

	userTurn := domain.Message{Role: "user", Content: prompt}
	msgs := make([]domain.Message, 0, len(s.History)+2)
	msgs = append(msgs, domain.Message{Role: "system", Content: system})
	msgs = append(msgs, s.History...)
	msgs = append(msgs, userTurn)

	req := domain.ChatRequest{
		Messages:    msgs,
		Model:       a.model,
		Temperature: a.temperature,
	}
	if native {
		req.Tools = defs
	}

	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	resp, err := a.provider.Chat(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("reply provider: %w", err)
	}
	a.metrics.LLMLatency.Observe(float64(resp.LatencyMs) / 1000)

	calls := resp.ToolCalls
	if !native && len(calls) == 0 && resp.Content != "" {
		if extracted := parseTextToolCalls(resp.Content); len(extracted) > 0 {
			a.logger.Info("extracted tool calls from content text", "count", len(extracted))
			calls = extracted
		}
	}

	if len(calls) > 0 {
		calls = withCallIDs(calls)
		a.logger.Info("model requested tool calls", "message_id", s.Email.ID(), "count", len(calls))
		assistant := domain.Message{Role: "assistant", ToolCalls: calls}
		if native {
			assistant.Content = resp.Content
		}
		return func(st *State) {
			st.PendingToolCalls = calls
			st.History = append(st.History, userTurn, assistant)
		}, nil
	}

	reply := normalizeReply(resp)
	return func(st *State) {
		st.Reply = reply
		st.HasReply = true
		st.PendingToolCalls = nil
		st.History = append(st.History, userTurn, domain.Message{Role: "assistant", Content: reply})
	}, nil
}

// withCallIDs returns calls with a generated id wherever the model sent none.
func withCallIDs(calls []domain.ToolCall) []domain.ToolCall {
	out := make([]domain.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Arguments == nil {
			c.Arguments = make(map[string]any)
		}
		out[i] = c
	}
	return out
}

// normalizeReply picks the reply text: the first text part when the model
// answered with typed parts (or the parts as JSON if none is text), otherwise
// the plain content.
func normalizeReply(resp *domain.ChatResponse) string {
	if len(resp.Parts) == 0 {
		return trimRolePrefix(strings.TrimSpace(resp.Content))
	}
	for _, p := range resp.Parts {
		if p.Type == "text" {
			return trimRolePrefix(strings.TrimSpace(p.Text))
		}
	}
	raw, err := json.Marshal(resp.Parts)
	if err != nil {
		return fmt.Sprint(resp.Parts)
	}
	return string(raw)
}

// toolInstructions describes the tools in the system prompt for models that
// cannot call them natively.
func toolInstructions(defs []domain.ToolDefinition) string {
	var sb strings.Builder
	sb.WriteString("To use a tool, answer with only a JSON object of the form ")
	sb.WriteString(`{"name": "<tool>", "arguments": {...}}`)
	sb.WriteString(" and nothing else. Available tools:\n")
	for _, d := range defs {
		params, _ := json.Marshal(d.Parameters)
		fmt.Fprintf(&sb, "- %s: %s Parameters: %s\n", d.Name, d.Description, params)
	}
	return strings.TrimRight(sb.String(), "\n")
}
