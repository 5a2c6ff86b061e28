package agent

import (
	"context"
	"fmt"
	"strings"

	"mailagent/internal/domain"
	"mailagent/internal/workflow"
)

// relevanceBodyLimit caps the body shown to the classifier.
const relevanceBodyLimit = 1000

// decideRelevance classifies the email. It fails open: any error marks the
// email relevant so that a reply is still attempted.
func (a *Agent) decideRelevance(ctx context.Context, s State) (workflow.Patch[State], error) {
	verdict, err := a.classify(ctx, s)
	if err != nil {
		a.logger.Error("relevance check failed, defaulting to relevant",
			"message_id", s.Email.ID(), "err", err)
		reason := "classification failed: " + err.Error()
		return func(st *State) {
			st.IsRelevant = true
			st.RelevanceReason = reason
		}, nil
	}

	a.logger.Info("relevance determined",
		"message_id", s.Email.ID(),
		"is_relevant", verdict.IsRelevant,
		"reason", verdict.Reason,
	)
	return func(st *State) {
		st.IsRelevant = verdict.IsRelevant
		st.RelevanceReason = verdict.Reason
	}, nil
}

func (a *Agent) classify(ctx context.Context, s State) (relevanceVerdict, error) {
	h := s.Email.Headers()
	prompt, err := a.prompts.renderRelevance(relevanceInput{
		Sender:      h.Sender,
		Subject:     h.Subject,
		Body:        truncateRunes(s.Email.Body(), relevanceBodyLimit),
		Attachments: strings.Join(s.AttachmentTexts, "\n"),
	})
	if err != nil {
		return relevanceVerdict{}, err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	resp, err := a.classifier.Chat(ctx, domain.ChatRequest{
		Messages:       []domain.Message{{Role: "user", Content: prompt}},
		Model:          a.model,
		Temperature:    a.temperature,
		ResponseSchema: a.relevance.responseSchema(),
	})
	if err != nil {
		return relevanceVerdict{}, fmt.Errorf("classifier: %w", err)
	}
	a.metrics.LLMLatency.Observe(float64(resp.LatencyMs) / 1000)

	var v relevanceVerdict
	if err := a.relevance.decode(resp.Content, &v); err != nil {
		return relevanceVerdict{}, err
	}
	return v, nil
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
