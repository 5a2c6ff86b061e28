package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

const defaultMaxSteps = 25

// Option configures an Engine at compile time.
type Option func(*engineConfig)

type engineConfig struct {
	maxSteps int
	logger   *slog.Logger
	observer func(node NodeID, d time.Duration, err error)
}

// WithMaxSteps bounds the number of node executions per run.
func WithMaxSteps(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithLogger logs each step at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithObserver is called after every node execution.
func WithObserver(fn func(node NodeID, d time.Duration, err error)) Option {
	return func(c *engineConfig) { c.observer = fn }
}

// Engine executes a compiled graph. It holds no per-run state and is safe
// for concurrent use.
type Engine[S any] struct {
	entry NodeID
	nodes map[NodeID]NodeFunc[S]
	edges map[NodeID]edge[S]
	engineConfig
}

// Run executes the graph from the entry node until End and returns the
// terminal state. A node error aborts the run; the partial state at the
// time of failure is returned alongside the error.
func (e *Engine[S]) Run(ctx context.Context, initial S) (S, error) {
	state := initial
	current := e.entry

	for step := 0; current != End; step++ {
		if step >= e.maxSteps {
			return state, fmt.Errorf("%w (%d) at node %s", ErrStepLimit, e.maxSteps, current)
		}
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("workflow: cancelled before node %s: %w", current, err)
		}

		fn := e.nodes[current]
		if fn == nil {
			return state, fmt.Errorf("%w: %s", ErrUnknownNode, current)
		}

		start := time.Now()
		patch, err := fn(ctx, state)
		if e.observer != nil {
			e.observer(current, time.Since(start), err)
		}
		if err != nil {
			return state, fmt.Errorf("workflow: node %s: %w", current, err)
		}
		if patch != nil {
			patch(&state)
		}

		next, err := e.next(current, state)
		if err != nil {
			return state, err
		}
		if e.logger != nil {
			e.logger.Debug("workflow step", "step", step, "node", current, "next", next)
		}
		current = next
	}
	return state, nil
}

func (e *Engine[S]) next(from NodeID, state S) (NodeID, error) {
	ed, ok := e.edges[from]
	if !ok {
		return "", fmt.Errorf("%w: no edge from %s", ErrUnknownNode, from)
	}
	if ed.router == nil {
		return ed.static, nil
	}
	to := ed.router(state)
	if !slices.Contains(ed.targets, to) {
		return "", fmt.Errorf("%w: router at %s returned undeclared target %q", ErrUnknownNode, from, to)
	}
	return to, nil
}
