// Package agent implements the email reply workflow: attachment extraction,
// relevance filtering and a tool-augmented reply loop, composed as a
// workflow graph.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mailagent/internal/domain"
	"mailagent/internal/metrics"
	"mailagent/internal/workflow"
)

const (
	defaultCallTimeout      = 60 * time.Second
	defaultMaxParallelTools = 4
	defaultMaxSteps         = 25
)

// AttachmentExtractor turns attachments into prompt fragments, one per
// attachment. *attachment.Extractor implements it.
type AttachmentExtractor interface {
	Extract(ctx context.Context, atts []domain.Attachment) []string
}

// ToolSet is the closed tool table. *tool.Registry implements it.
type ToolSet interface {
	// Execute runs the named tool. Names outside the set fail with
	// tool.ErrUnknownTool.
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
	Definitions() []domain.ToolDefinition
}

// Config wires an Agent.
type Config struct {
	// Provider generates replies and requests tool calls.
	Provider domain.Provider
	// Classifier answers the relevance question. Defaults to Provider.
	Classifier domain.Provider

	Extractor AttachmentExtractor
	Tools     ToolSet
	Prompts   *Prompts

	Model            string
	Temperature      float64
	MaxSteps         int
	CallTimeout      time.Duration
	MaxParallelTools int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Agent runs one email through the reply graph. It is safe for concurrent
// use; each Run owns its own State.
type Agent struct {
	provider    domain.Provider
	classifier  domain.Provider
	extractor   AttachmentExtractor
	tools       ToolSet
	prompts     *Prompts
	relevance   *structuredOutput
	model       string
	temperature float64
	callTimeout time.Duration
	parallel    int
	metrics     *metrics.Metrics
	logger      *slog.Logger
	engine      *workflow.Engine[State]
}

// New validates cfg and compiles the reply graph.
func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("agent: tool set is required")
	}
	if cfg.Extractor == nil {
		return nil, errors.New("agent: attachment extractor is required")
	}
	if cfg.Classifier == nil {
		cfg.Classifier = cfg.Provider
	}
	if cfg.Prompts == nil {
		cfg.Prompts = DefaultPrompts()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = defaultMaxParallelTools
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	relevance, err := newStructuredOutput("relevance_assessment", relevanceSchema)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	a := &Agent{
		provider:    cfg.Provider,
		classifier:  cfg.Classifier,
		extractor:   cfg.Extractor,
		tools:       cfg.Tools,
		prompts:     cfg.Prompts,
		relevance:   relevance,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		callTimeout: cfg.CallTimeout,
		parallel:    cfg.MaxParallelTools,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "agent"),
	}

	engine, err := workflow.NewGraph[State]().
		AddNode(NodeProcessAttachments, a.processAttachments).
		AddNode(NodeDecideRelevance, a.decideRelevance).
		AddNode(NodeCallLLM, a.callLLM).
		AddNode(NodeExecuteTools, a.executeTools).
		SetEntry(NodeProcessAttachments).
		AddEdge(NodeProcessAttachments, NodeDecideRelevance).
		AddConditionalEdge(NodeDecideRelevance, routeRelevance, NodeCallLLM, workflow.End).
		AddConditionalEdge(NodeCallLLM, routeReply, NodeExecuteTools, workflow.End).
		AddEdge(NodeExecuteTools, NodeCallLLM).
		Compile(
			workflow.WithMaxSteps(cfg.MaxSteps),
			workflow.WithLogger(a.logger),
		)
	if err != nil {
		return nil, err
	}
	a.engine = engine
	return a, nil
}

func routeRelevance(s State) workflow.NodeID {
	if s.IsRelevant {
		return NodeCallLLM
	}
	return workflow.End
}

func routeReply(s State) workflow.NodeID {
	if len(s.PendingToolCalls) > 0 {
		return NodeExecuteTools
	}
	return workflow.End
}

// Run drives email through the graph and reports how it ended.
func (a *Agent) Run(ctx context.Context, email *domain.Email) (Result, error) {
	if email == nil {
		return Result{}, errors.New("agent: nil email")
	}
	initial := State{RunID: uuid.NewString(), Email: email}
	logger := a.logger.With("run_id", initial.RunID, "message_id", email.ID())

	start := time.Now()
	final, err := a.engine.Run(ctx, initial)
	a.metrics.WorkflowLatency.ObserveSince(start)
	if err != nil {
		logger.Error("workflow failed", "err", err, "duration", time.Since(start))
		return Result{State: final}, fmt.Errorf("agent run %s: %w", initial.RunID, err)
	}

	switch {
	case !final.IsRelevant:
		logger.Info("email filtered", "reason", final.RelevanceReason)
		return Result{Outcome: OutcomeFiltered, State: final}, nil
	case final.HasReply:
		logger.Info("reply generated", "reply_len", len(final.Reply), "duration", time.Since(start))
		return Result{Outcome: OutcomeAnswered, Reply: final.Reply, State: final}, nil
	default:
		return Result{State: final}, fmt.Errorf("agent run %s: finished without a reply", initial.RunID)
	}
}

// withTimeout bounds a single external call.
func (a *Agent) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.callTimeout)
}

func (a *Agent) processAttachments(ctx context.Context, s State) (workflow.Patch[State], error) {
	texts := a.extractor.Extract(ctx, s.Email.Attachments())
	return func(st *State) { st.AttachmentTexts = texts }, nil
}
