package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"mailagent/internal/domain"
)

// relevanceVerdict is the structured answer of the relevance classifier.
type relevanceVerdict struct {
	IsRelevant bool   `json:"is_relevant"`
	Reason     string `json:"reason"`
}

var relevanceSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_relevant": map[string]any{
			"type":        "boolean",
			"description": "True if the email is a serious, business-relevant, or product-related inquiry. False if it is spam, inappropriate, promotional, or irrelevant.",
		},
		"reason": map[string]any{
			"type":        "string",
			"description": "A brief explanation for the relevance decision.",
		},
	},
	"required": []any{"is_relevant", "reason"},
}

// structuredOutput validates model JSON against a compiled schema before it
// is decoded.
type structuredOutput struct {
	name   string
	schema map[string]any
	sch    *jsonschema.Schema
}

func newStructuredOutput(name string, schema map[string]any) (*structuredOutput, error) {
	// Round-trip through the validator's own decoder so the resource has the
	// value types it expects.
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode %s schema: %w", name, err)
	}
	url := name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add %s schema: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return &structuredOutput{name: name, schema: schema, sch: sch}, nil
}

func (s *structuredOutput) responseSchema() *domain.ResponseSchema {
	return &domain.ResponseSchema{Name: s.name, Schema: s.schema}
}

// decode validates text and unmarshals it into v. Markdown code fences
// around the JSON are tolerated.
func (s *structuredOutput) decode(text string, v any) error {
	raw := stripCodeFence(text)
	if raw == "" {
		return fmt.Errorf("%s: empty response", s.name)
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s: malformed json: %w", s.name, err)
	}
	if err := s.sch.Validate(inst); err != nil {
		return fmt.Errorf("%s: schema violation: %w", s.name, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%s: decode: %w", s.name, err)
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) >= 2 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return s
}
