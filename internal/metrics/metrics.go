package metrics

import "net/http"

const namespace = "mailagent"

// Metrics is the set of series recorded by the ingestion pipeline and the
// agent.
type Metrics struct {
	reg *Registry

	Notifications     *Counter
	MessagesProcessed *Counter
	Duplicates        *Counter
	SelfSentSkipped   *Counter
	Filtered          *Counter
	RepliesSent       *Counter
	PipelineFailures  *Counter
	ToolCalls         *Counter
	ToolErrors        *Counter

	InFlight *Gauge

	WorkflowLatency *Histogram
	LLMLatency      *Histogram
}

func New() *Metrics {
	r := NewRegistry()
	name := func(s string) string { return namespace + "_" + s }
	return &Metrics{
		reg:               r,
		Notifications:     r.Counter(name("notifications_total"), "Push notifications received"),
		MessagesProcessed: r.Counter(name("messages_processed_total"), "Messages run through the agent"),
		Duplicates:        r.Counter(name("duplicate_messages_total"), "Messages skipped as already processed"),
		SelfSentSkipped:   r.Counter(name("self_sent_skipped_total"), "Messages skipped because the mailbox sent them"),
		Filtered:          r.Counter(name("filtered_total"), "Messages classified as irrelevant"),
		RepliesSent:       r.Counter(name("replies_sent_total"), "Replies sent"),
		PipelineFailures:  r.Counter(name("pipeline_failures_total"), "Notifications that ended in the failure path"),
		ToolCalls:         r.Counter(name("tool_calls_total"), "Tool calls executed"),
		ToolErrors:        r.Counter(name("tool_errors_total"), "Tool calls that returned an error result"),
		InFlight:          r.Gauge(name("notifications_in_flight"), "Notifications currently being handled"),
		WorkflowLatency: r.Histogram(name("workflow_latency_seconds"), "Agent workflow latency in seconds",
			1, 2, 5, 10, 30, 60, 120, 300),
		LLMLatency: r.Histogram(name("llm_latency_seconds"), "LLM request latency in seconds",
			0.5, 1, 2, 5, 10, 30, 60, 120),
	}
}

func (m *Metrics) Handler() http.Handler { return Handler(m.reg, namespace) }
