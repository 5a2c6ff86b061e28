// Package renewal keeps the mailbox push subscription alive.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"mailagent/internal/domain"
)

type RenewerConfig struct {
	Source domain.MessageSource
	State  domain.StateStore
	Logger *slog.Logger
}

// Renewer re-establishes the watch and stores the returned cursor.
type Renewer struct {
	source domain.MessageSource
	state  domain.StateStore
	logger *slog.Logger
}

func NewRenewer(cfg RenewerConfig) (*Renewer, error) {
	if cfg.Source == nil || cfg.State == nil {
		return nil, errors.New("renewal: source and state are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Renewer{
		source: cfg.Source,
		state:  cfg.State,
		logger: cfg.Logger.With("component", "renewal"),
	}, nil
}

// Renew calls Watch and persists the new cursor when one is returned.
func (r *Renewer) Renew(ctx context.Context) (domain.WatchResult, error) {
	res, err := r.source.Watch(ctx)
	if err != nil {
		return domain.WatchResult{}, err
	}
	if res.Cursor == "" {
		r.logger.Warn("watch did not return a history id")
	} else {
		if err := r.state.SaveCursor(ctx, res.Cursor); err != nil {
			return res, fmt.Errorf("persist renewed cursor: %w", err)
		}
		r.logger.Info("renewed history id saved", "history_id", res.Cursor)
	}
	r.logger.Info("watch renewed", "expiration", res.Expiration)
	return res, nil
}

type SchedulerConfig struct {
	Renewer  *Renewer
	Schedule string // cron expression
	Interval time.Duration
	Logger   *slog.Logger
}

// Scheduler runs Renew whenever its cron expression is due. The expression
// is checked once per Interval (a minute by default).
type Scheduler struct {
	renewer  *Renewer
	schedule string
	interval time.Duration
	gron     *gronx.Gronx
	logger   *slog.Logger
	now      func() time.Time
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Renewer == nil {
		return nil, errors.New("renewal: renewer is required")
	}
	g := gronx.New()
	if !g.IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("renewal: invalid schedule %q", cfg.Schedule)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		renewer:  cfg.Renewer,
		schedule: cfg.Schedule,
		interval: cfg.Interval,
		gron:     g,
		logger:   cfg.Logger.With("component", "renewal-scheduler"),
		now:      time.Now,
	}, nil
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if next, err := gronx.NextTickAfter(s.schedule, s.now(), false); err == nil {
		s.logger.Info("watch renewal scheduled", "schedule", s.schedule, "next", next)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.now().Truncate(time.Minute)
			if now.Equal(last) {
				continue
			}
			if s.tick(ctx, now) {
				last = now
			}
		}
	}
}

// tick renews when the schedule is due at now and reports whether it ran.
func (s *Scheduler) tick(ctx context.Context, now time.Time) bool {
	due, err := s.gron.IsDue(s.schedule, now)
	if err != nil {
		s.logger.Error("schedule check failed", "err", err)
		return false
	}
	if !due {
		return false
	}
	if _, err := s.renewer.Renew(ctx); err != nil {
		s.logger.Error("scheduled watch renewal failed", "err", err)
	}
	return true
}
