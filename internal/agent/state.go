package agent

import (
	"mailagent/internal/domain"
	"mailagent/internal/workflow"
)

// Node ids of the reply graph.
const (
	NodeProcessAttachments workflow.NodeID = "process_attachments"
	NodeDecideRelevance    workflow.NodeID = "decide_relevance"
	NodeCallLLM            workflow.NodeID = "call_llm"
	NodeExecuteTools       workflow.NodeID = "execute_tools"
)

// defaultToolContext is shown to the reply model before any tool has run.
const defaultToolContext = "No previous tool results."

// State is the per-run context threaded through the reply graph. It is
// owned by a single run; nodes receive copies and return patches.
type State struct {
	RunID string
	Email *domain.Email

	AttachmentTexts []string

	IsRelevant      bool
	RelevanceReason string

	// ToolContext accumulates tool output across execute_tools steps.
	ToolContext      string
	PendingToolCalls []domain.ToolCall

	Reply    string
	HasReply bool

	// History only grows.
	History []domain.Message
}

// Outcome is how a run ended.
type Outcome int

const (
	OutcomeFiltered Outcome = iota + 1
	OutcomeAnswered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFiltered:
		return "filtered"
	case OutcomeAnswered:
		return "answered"
	default:
		return "unknown"
	}
}

// Result is returned by Agent.Run.
type Result struct {
	Outcome Outcome
	Reply   string
	State   State
}
