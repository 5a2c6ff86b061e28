package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Config paths are dot-separated JSON keys, e.g. "agent.maxSteps" or
// "mailbox.watchLabels.0". All accessors work on the JSON form of Config
// so that paths match the file layout exactly.

func toTree(cfg *Config) (map[string]any, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	tree := map[string]any{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func fromTree(tree map[string]any, cfg *Config) error {
	raw, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, cfg)
}

// step descends one key into node.
func step(node any, key string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		if !ok {
			return nil, fmt.Errorf("no key %q", key)
		}
		return v, nil
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(n) {
			return nil, fmt.Errorf("index %q out of range", key)
		}
		return n[i], nil
	default:
		return nil, fmt.Errorf("%q is not a container", key)
	}
}

// GetByPath returns the value at path.
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	var node any = tree
	for _, key := range strings.Split(path, ".") {
		if node, err = step(node, key); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return node, nil
}

// SetByPath assigns value at path, creating intermediate objects as needed.
// String values are coerced to bool or number when they parse as one. A
// string assigned to a list field is split on commas.
func SetByPath(cfg *Config, path string, value any) error {
	keys := strings.Split(path, ".")
	if path == "" {
		return errors.New("empty path")
	}
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}

	node := tree
	for _, key := range keys[:len(keys)-1] {
		next, ok := node[key]
		if !ok || next == nil {
			child := map[string]any{}
			node[key] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: %q is not an object", path, key)
		}
		node = child
	}

	last := keys[len(keys)-1]
	if _, isList := node[last].([]any); isList {
		if s, ok := value.(string); ok {
			node[last] = splitList(s)
			return fromTree(tree, cfg)
		}
	}
	node[last] = coerce(value)
	return fromTree(tree, cfg)
}

func coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if s == "true" || s == "false" {
		return s == "true"
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func splitList(s string) []any {
	out := []any{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ListPaths flattens cfg into path -> leaf value. Lists are leaves.
func ListPaths(cfg *Config) map[string]any {
	tree, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := map[string]any{}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", tree)
	return out
}

// Sanitize returns a deep copy of cfg with provider keys and DSN passwords
// masked. cfg itself is not modified.
func Sanitize(cfg *Config) *Config {
	tree, err := toTree(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := fromTree(tree, &out); err != nil {
		return cfg
	}
	for name, p := range out.Providers {
		if p.APIKey != "" {
			p.APIKey = mask(p.APIKey)
			out.Providers[name] = p
		}
	}
	out.State.DSN = maskDSN(out.State.DSN)
	return &out
}

func mask(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// maskDSN hides the password of a URL-style DSN. DSNs without credentials
// are returned as is.
func maskDSN(dsn string) string {
	if !strings.Contains(dsn, "@") {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
