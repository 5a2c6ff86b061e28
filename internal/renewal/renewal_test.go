package renewal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailagent/internal/domain"
	"mailagent/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type watchSource struct {
	domain.MessageSource
	res   domain.WatchResult
	err   error
	calls atomic.Int32
}

func (w *watchSource) Watch(ctx context.Context) (domain.WatchResult, error) {
	w.calls.Add(1)
	return w.res, w.err
}

type failingState struct {
	domain.StateStore
}

func (failingState) SaveCursor(ctx context.Context, cursor string) error {
	return errors.New("store: save cursor: unavailable")
}

func newRenewer(t *testing.T, src domain.MessageSource, st domain.StateStore) *Renewer {
	t.Helper()
	r, err := NewRenewer(RenewerConfig{Source: src, State: st, Logger: testLogger()})
	require.NoError(t, err)
	return r
}

func TestRenew_PersistsCursor(t *testing.T) {
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &watchSource{res: domain.WatchResult{Cursor: "900", Expiration: exp}}
	st := store.NewMemoryStore(store.Options{})

	res, err := newRenewer(t, src, st).Renew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "900", res.Cursor)
	assert.Equal(t, exp, res.Expiration)

	c, found, err := st.LoadCursor(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "900", c)
}

func TestRenew_NoCursorLeavesState(t *testing.T) {
	src := &watchSource{}
	st := store.NewMemoryStore(store.Options{})

	_, err := newRenewer(t, src, st).Renew(context.Background())
	require.NoError(t, err)
	_, found, err := st.LoadCursor(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRenew_Errors(t *testing.T) {
	_, err := newRenewer(t, &watchSource{err: errors.New("forbidden")}, store.NewMemoryStore(store.Options{})).
		Renew(context.Background())
	assert.ErrorContains(t, err, "forbidden")

	_, err = newRenewer(t, &watchSource{res: domain.WatchResult{Cursor: "1"}}, failingState{}).
		Renew(context.Background())
	assert.ErrorContains(t, err, "persist renewed cursor")
}

func TestNewScheduler_Validation(t *testing.T) {
	r := newRenewer(t, &watchSource{}, store.NewMemoryStore(store.Options{}))

	_, err := NewScheduler(SchedulerConfig{Renewer: r, Schedule: "not cron"})
	assert.Error(t, err)
	_, err = NewScheduler(SchedulerConfig{Schedule: "0 6 * * *"})
	assert.Error(t, err)

	s, err := NewScheduler(SchedulerConfig{Renewer: r, Schedule: "0 6 * * *", Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, s.interval)
}

func TestScheduler_TickOnlyWhenDue(t *testing.T) {
	src := &watchSource{res: domain.WatchResult{Cursor: "5"}}
	r := newRenewer(t, src, store.NewMemoryStore(store.Options{}))
	s, err := NewScheduler(SchedulerConfig{Renewer: r, Schedule: "0 6 * * *", Logger: testLogger()})
	require.NoError(t, err)

	assert.False(t, s.tick(context.Background(), time.Date(2025, 6, 2, 5, 59, 0, 0, time.Local)))
	assert.Zero(t, src.calls.Load())

	assert.True(t, s.tick(context.Background(), time.Date(2025, 6, 2, 6, 0, 0, 0, time.Local)))
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestScheduler_RunFiresOncePerMinute(t *testing.T) {
	src := &watchSource{res: domain.WatchResult{Cursor: "5"}}
	r := newRenewer(t, src, store.NewMemoryStore(store.Options{}))
	s, err := NewScheduler(SchedulerConfig{
		Renewer:  r,
		Schedule: "* * * * *",
		Interval: 5 * time.Millisecond,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	fixed := time.Date(2025, 6, 2, 6, 0, 30, 0, time.Local)
	s.now = func() time.Time { return fixed }

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.EqualValues(t, 1, src.calls.Load())
}
