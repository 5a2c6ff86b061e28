package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"mailagent/internal/domain"
)

// Failover serves each request from the first provider in its chain that
// succeeds. Capabilities are reported for the chain as a whole.
type Failover struct {
	chain  []domain.Provider
	logger *slog.Logger
}

func NewFailover(chain []domain.Provider, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{chain: chain, logger: logger.With("component", "failover")}
}

func (f *Failover) Name() string {
	names := make([]string, 0, len(f.chain))
	for _, p := range f.chain {
		names = append(names, p.Name())
	}
	return "failover(" + strings.Join(names, ">") + ")"
}

func (f *Failover) Mode() domain.ProviderMode {
	if len(f.chain) == 0 {
		return domain.ModeAPI
	}
	return f.chain[0].Mode()
}

// Models lists every model of the chain once, in chain order.
func (f *Failover) Models() []string {
	var out []string
	for _, p := range f.chain {
		for _, m := range p.Models() {
			if !slices.Contains(out, m) {
				out = append(out, m)
			}
		}
	}
	return out
}

// SupportsToolCalling requires every member, since any of them may serve
// a given request.
func (f *Failover) SupportsToolCalling() bool {
	return len(f.chain) > 0 && !slices.ContainsFunc(f.chain, func(p domain.Provider) bool {
		return !p.SupportsToolCalling()
	})
}

// Healthy succeeds when at least one member is healthy.
func (f *Failover) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range f.chain {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("no healthy provider: %w", errors.Join(errs...))
}

// Chat stops at the first success. Cancellation of ctx ends the walk
// immediately rather than burning through the rest of the chain.
func (f *Failover) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var errs []error
	for i, p := range f.chain {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("served by fallback provider", "provider", p.Name(), "skipped", i)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
		f.logger.Warn("provider failed", "provider", p.Name(), "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, fmt.Errorf("every provider failed: %w", errors.Join(errs...))
}
