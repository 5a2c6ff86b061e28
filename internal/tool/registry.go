package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mailagent/internal/domain"
)

var ErrUnknownTool = errors.New("tool: unknown tool")

// Registry binds each ID to a handler. It is filled once at startup and only
// read afterwards, so lookups from parallel tool calls need no locking.
type Registry struct {
	handlers map[ID]domain.Tool
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{handlers: map[ID]domain.Tool{}, logger: logger.With("component", "tools")}
}

// Register binds t under the ID matching t.Name(). A second registration for
// the same ID replaces the first.
func (r *Registry) Register(t domain.Tool) error {
	id, ok := ParseID(t.Name())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, t.Name())
	}
	if _, dup := r.handlers[id]; dup {
		r.logger.Warn("replacing tool handler", "tool", id)
	}
	r.handlers[id] = t
	return nil
}

// Validate fails for every ID that still has no handler.
func (r *Registry) Validate() error {
	var errs []error
	for _, id := range ids {
		if r.handlers[id] == nil {
			errs = append(errs, fmt.Errorf("tool %s has no handler", id))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) lookup(name string) (domain.Tool, bool) {
	id, ok := ParseID(name)
	if !ok {
		return nil, false
	}
	t, ok := r.handlers[id]
	return t, ok
}

func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Execute(ctx, args)
}

// Definitions lists the registered tools in ID order, in the shape passed to
// providers.
func (r *Registry) Definitions() []domain.ToolDefinition {
	var defs []domain.ToolDefinition
	for _, id := range ids {
		if t, ok := r.handlers[id]; ok {
			defs = append(defs, domain.ToolDefinition{
				Name:        string(id),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			})
		}
	}
	return defs
}
