package tool

import (
	"encoding/json"
	"maps"
	"slices"
)

// Prop is one property of a tool's argument object.
type Prop struct {
	Type        string
	Description string
}

// ObjectSchema returns the JSON Schema of an argument object with the given
// properties. Names listed in required are sorted for stable output.
func ObjectSchema(props map[string]Prop, required ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for _, name := range slices.Sorted(maps.Keys(props)) {
		p := props[name]
		properties[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = slices.Sorted(slices.Values(required))
	}
	return schema
}

// StringArg reads args[key] as a string. Non-string values are rendered as
// JSON; a missing key yields "".
func StringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
