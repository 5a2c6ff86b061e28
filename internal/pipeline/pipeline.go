// Package pipeline turns mailbox push notifications into agent runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"mailagent/internal/agent"
	"mailagent/internal/domain"
	"mailagent/internal/metrics"
)

// Runner runs the reply workflow for one email.
type Runner interface {
	Run(ctx context.Context, email *domain.Email) (agent.Result, error)
}

type Config struct {
	Source  domain.MessageSource
	State   domain.StateStore
	Agent   Runner
	Mailbox string // messages from this address are never answered
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Pipeline handles one notification at a time per call. Calls may run
// concurrently; the processed-message ledger keeps each message to a
// single run.
type Pipeline struct {
	source  domain.MessageSource
	state   domain.StateStore
	agent   Runner
	mailbox string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil || cfg.State == nil || cfg.Agent == nil {
		return nil, errors.New("pipeline: source, state and agent are required")
	}
	mailbox := strings.ToLower(strings.TrimSpace(cfg.Mailbox))
	if !strings.Contains(mailbox, "@") {
		return nil, fmt.Errorf("pipeline: mailbox address %q is required to skip self-sent mail", cfg.Mailbox)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		source:  cfg.Source,
		state:   cfg.State,
		agent:   cfg.Agent,
		mailbox: mailbox,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "pipeline"),
	}, nil
}

// Handle processes every new message since the stored cursor. Failures are
// logged; on failure the cursor moves to the notification's historyId so a
// poisoned message is not retried forever.
func (p *Pipeline) Handle(ctx context.Context, n domain.Notification) {
	p.metrics.Notifications.Inc()
	p.metrics.InFlight.Inc()
	defer p.metrics.InFlight.Dec()

	logger := p.logger.With("history_id", n.HistoryID, "delivery_id", n.DeliveryID)
	if err := p.process(ctx, n, logger); err != nil {
		p.metrics.PipelineFailures.Inc()
		logger.Error("notification failed", "err", err)
		if err := p.state.SaveCursor(context.WithoutCancel(ctx), n.HistoryID); err != nil {
			logger.Error("fallback cursor save failed", "err", err)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, n domain.Notification, logger *slog.Logger) error {
	cursor, found, err := p.state.LoadCursor(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if !found {
		logger.Warn("no stored cursor, the mailbox watch has not been set up")
		return nil
	}

	delta, err := p.source.FetchDelta(ctx, cursor)
	if err != nil {
		return fmt.Errorf("fetch delta: %w", err)
	}
	tip := delta.Cursor
	if tip == "" {
		tip = n.HistoryID
	}
	if delta.Records == 0 {
		logger.Info("no new unread history since last check", "cursor", cursor)
		return p.saveCursor(ctx, tip)
	}

	ids := uniqueOrdered(delta.MessageIDs)
	logger.Info("new messages to process", "count", len(ids))

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		stop, err := p.handleMessage(ctx, id, logger.With("message_id", id))
		if err != nil {
			return err
		}
		if stop {
			if rest := ids[i+1:]; len(rest) > 0 {
				logger.Info("batch stopped on irrelevant message", "skipped", rest)
			}
			return p.saveCursor(ctx, n.HistoryID)
		}
	}

	return p.saveCursor(ctx, tip)
}

// handleMessage runs one message through the agent. stop reports that the
// rest of the batch must be left for a later notification.
func (p *Pipeline) handleMessage(ctx context.Context, id string, logger *slog.Logger) (stop bool, err error) {
	email, err := p.source.FetchMessage(ctx, id)
	if err != nil {
		return false, fmt.Errorf("fetch message %s: %w", id, err)
	}

	if strings.ToLower(domain.ExtractAddress(email.Headers().Sender)) == p.mailbox {
		logger.Info("skipping self-sent message")
		if err := p.source.MarkRead(ctx, id); err != nil {
			return false, fmt.Errorf("mark self-sent %s read: %w", id, err)
		}
		p.metrics.SelfSentSkipped.Inc()
		return false, nil
	}

	first, err := p.state.MarkProcessed(ctx, id)
	if err != nil {
		return false, fmt.Errorf("mark processed %s: %w", id, err)
	}
	if !first {
		logger.Warn("skipping duplicate processing")
		p.metrics.Duplicates.Inc()
		return false, nil
	}

	p.metrics.MessagesProcessed.Inc()
	res, err := p.agent.Run(ctx, email)
	if err != nil {
		return false, err
	}

	switch res.Outcome {
	case agent.OutcomeFiltered:
		p.metrics.Filtered.Inc()
		logger.Warn("email classified as irrelevant, labeling without reply")
		if err := p.source.LabelThread(ctx, email.ThreadID(), domain.LabelIrrelevant); err != nil {
			return false, fmt.Errorf("label irrelevant thread %s: %w", email.ThreadID(), err)
		}
		return true, nil
	case agent.OutcomeAnswered:
		if err := p.source.SendReply(ctx, email, res.Reply); err != nil {
			return false, fmt.Errorf("send reply to %s: %w", id, err)
		}
		p.metrics.RepliesSent.Inc()
		if err := p.source.LabelThread(ctx, email.ThreadID(), domain.LabelAnswered); err != nil {
			return false, fmt.Errorf("label answered thread %s: %w", email.ThreadID(), err)
		}
		return false, nil
	default:
		return false, fmt.Errorf("agent returned outcome %s for %s", res.Outcome, id)
	}
}

func (p *Pipeline) saveCursor(ctx context.Context, cursor string) error {
	if err := p.state.SaveCursor(ctx, cursor); err != nil {
		return fmt.Errorf("save cursor %s: %w", cursor, err)
	}
	return nil
}

func uniqueOrdered(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
