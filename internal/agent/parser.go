package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"mailagent/internal/domain"
	"mailagent/internal/tool"
)

// textToolCall is the shape a model without native tool calling is asked
// to write. Some models say "parameters" instead of "arguments".
type textToolCall struct {
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
	Parameters map[string]any `json:"parameters"`
}

// parseTextToolCalls finds tool calls written into a reply: a bare object
// or array, optionally code-fenced or surrounded by prose. Only registered
// tool names count, so a reply that merely contains JSON is not a call.
func parseTextToolCalls(content string) []domain.ToolCall {
	content = stripCodeFence(content)
	if calls := decodeToolCalls(content); len(calls) > 0 {
		return calls
	}
	return decodeToolCalls(firstJSONValue(content))
}

func decodeToolCalls(raw string) []domain.ToolCall {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var batch []textToolCall
	if !unmarshalLenient(raw, &batch) {
		var one textToolCall
		if !unmarshalLenient(raw, &one) {
			return nil
		}
		batch = []textToolCall{one}
	}

	var calls []domain.ToolCall
	for _, c := range batch {
		name := canonicalToolName(c.Name)
		if _, ok := tool.ParseID(name); !ok {
			continue
		}
		args := c.Arguments
		if args == nil {
			args = c.Parameters
		}
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, domain.ToolCall{ID: uuid.NewString(), Name: name, Arguments: args})
	}
	return calls
}

// firstJSONValue returns the first complete object or array embedded in s.
func firstJSONValue(s string) string {
	i := strings.IndexAny(s, "{[")
	if i < 0 {
		return ""
	}
	for _, candidate := range []string{s[i:], repairEscapes(s[i:])} {
		var raw json.RawMessage
		if json.NewDecoder(strings.NewReader(candidate)).Decode(&raw) == nil {
			return string(raw)
		}
	}
	return ""
}

func unmarshalLenient(raw string, v any) bool {
	if json.Unmarshal([]byte(raw), v) == nil {
		return true
	}
	return json.Unmarshal([]byte(repairEscapes(raw)), v) == nil
}

var toolAliases = map[string]tool.ID{
	"knowledgebasesearch":   tool.KnowledgeBaseSearch,
	"knowledge-base-search": tool.KnowledgeBaseSearch,
	"search_knowledge_base": tool.KnowledgeBaseSearch,
	"kb_search":             tool.KnowledgeBaseSearch,
}

func canonicalToolName(name string) string {
	if id, ok := toolAliases[strings.ToLower(name)]; ok {
		return string(id)
	}
	return name
}

var rolePrefix = regexp.MustCompile(`^(?i:assistant)(:\s*|\n)`)

// trimRolePrefix drops a leaked "assistant\n" or "Assistant: " prefix.
func trimRolePrefix(content string) string {
	if loc := rolePrefix.FindStringIndex(content); loc != nil {
		return strings.TrimSpace(content[loc[1]:])
	}
	return content
}

// repairEscapes drops the backslash of escapes JSON does not allow inside
// strings, e.g. \% or \Y, which some models emit.
func repairEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inString = !inString
		case c == '\\' && inString && i+1 < len(s):
			if strings.IndexByte(`"\/bfnrtu`, s[i+1]) < 0 {
				continue
			}
			b.WriteByte(c)
			i++
			c = s[i]
		}
		b.WriteByte(c)
	}
	return b.String()
}
