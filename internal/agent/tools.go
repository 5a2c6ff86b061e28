package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"mailagent/internal/domain"
	"mailagent/internal/tool"
	"mailagent/internal/workflow"
)

// executeTools runs every pending call with bounded parallelism and folds
// the results into history and the tool context. Tool failures become
// result text; the node itself does not fail.
func (a *Agent) executeTools(ctx context.Context, s State) (workflow.Patch[State], error) {
	calls := s.PendingToolCalls
	results := make([]domain.ToolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(a.parallel)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = a.runTool(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	turns := make([]domain.Message, len(results))
	contents := make([]string, len(results))
	for i, r := range results {
		turns[i] = domain.Message{Role: "tool", Content: r.Content, ToolCallID: r.CallID, ToolName: r.Name}
		contents[i] = r.Content
	}
	joined := strings.Join(contents, "\n---\n")

	return func(st *State) {
		st.History = append(st.History, turns...)
		if st.ToolContext != "" {
			st.ToolContext += "\n\n" + joined
		} else {
			st.ToolContext = joined
		}
		st.PendingToolCalls = nil
	}, nil
}

func (a *Agent) runTool(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	a.metrics.ToolCalls.Inc()
	res := domain.ToolResult{CallID: call.ID, Name: call.Name}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	out, err := a.tools.Execute(ctx, call.Name, call.Arguments)
	if errors.Is(err, tool.ErrUnknownTool) {
		a.logger.Warn("model called unknown tool", "tool", call.Name)
		a.metrics.ToolErrors.Inc()
		res.Content = fmt.Sprintf("Error: Tool %s is not defined.", call.Name)
		res.IsError = true
		return res
	}
	if err != nil {
		a.logger.Error("tool execution failed", "tool", call.Name, "err", err)
		a.metrics.ToolErrors.Inc()
		res.Content = fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
		res.IsError = true
		return res
	}
	a.logger.Info("tool executed", "tool", call.Name, "output_len", len(out))
	res.Content = out
	return res
}
