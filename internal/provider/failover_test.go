package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailagent/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name      string
	healthy   bool
	chatErr   error
	chatResp  *domain.ChatResponse
	toolCalls bool
	calls     int
	lastReq   domain.ChatRequest
}

var _ domain.Provider = (*mockProvider)(nil)

func (m *mockProvider) Name() string              { return m.name }
func (m *mockProvider) Mode() domain.ProviderMode { return domain.ModeAPI }
func (m *mockProvider) Models() []string          { return []string{"test-model"} }
func (m *mockProvider) SupportsToolCalling() bool { return m.toolCalls }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls++
	m.lastReq = req
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFailover_UsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatResp: &domain.ChatResponse{Content: "from-primary"}}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from-primary", resp.Content)
	assert.Zero(t, p2.calls)
}

func TestFailover_FallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatErr: errors.New("api error")}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from-secondary", resp.Content)
}

func TestFailover_AllProvidersFail(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", chatErr: errors.New("fail 2")}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail 2")
}

func TestFailover_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p1 := &mockProvider{name: "p1", chatErr: context.Canceled}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "late"}}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(ctx, domain.ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p2.calls)
}

func TestFailover_Healthy(t *testing.T) {
	fp := NewFailover([]domain.Provider{
		&mockProvider{name: "sick"},
		&mockProvider{name: "well", healthy: true},
	}, testLogger())
	assert.NoError(t, fp.Healthy(context.Background()))

	fp = NewFailover([]domain.Provider{&mockProvider{name: "sick1"}, &mockProvider{name: "sick2"}}, testLogger())
	assert.Error(t, fp.Healthy(context.Background()))
}

func TestFailover_Name(t *testing.T) {
	fp := NewFailover([]domain.Provider{&mockProvider{name: "gemini"}, &mockProvider{name: "openai"}}, testLogger())
	assert.Equal(t, "failover(gemini>openai)", fp.Name())
}

func TestFailover_ToolCallingRequiresAll(t *testing.T) {
	mixed := NewFailover([]domain.Provider{
		&mockProvider{name: "no-tools"},
		&mockProvider{name: "has-tools", toolCalls: true},
	}, testLogger())
	assert.False(t, mixed.SupportsToolCalling())

	all := NewFailover([]domain.Provider{
		&mockProvider{name: "a", toolCalls: true},
		&mockProvider{name: "b", toolCalls: true},
	}, testLogger())
	assert.True(t, all.SupportsToolCalling())

	assert.False(t, NewFailover(nil, testLogger()).SupportsToolCalling())
}

func TestFailover_ModelsDeduplicated(t *testing.T) {
	fp := NewFailover([]domain.Provider{&mockProvider{name: "p1"}, &mockProvider{name: "p2"}}, testLogger())
	assert.Equal(t, []string{"test-model"}, fp.Models())
}
