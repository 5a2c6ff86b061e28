package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"mailagent/internal/config"
	"mailagent/internal/domain"
)

// ProviderConstructor builds a chat provider from a config entry.
type ProviderConstructor func(ctx context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error)

// Factory creates and caches providers from config. Constructors are keyed by
// provider kind; instances are cached by provider name.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) the constructor for a provider kind.
func (f *Factory) RegisterConstructor(kind string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["gemini"] = func(ctx context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		client, err := NewGenAIClient(ctx, pc.Project, pc.Location, pc.APIKey)
		if err != nil {
			return nil, err
		}
		return NewGemini(GeminiConfig{Models: client.Models, Model: pc.DefaultModel, Logger: logger}), nil
	}

	f.constructors["openai"] = func(_ context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger}), nil
	}

	f.constructors["claude"] = func(_ context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewClaude(ClaudeConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger}), nil
	}
}

// Get returns the chat provider with the given name, or agent.provider if
// name is empty. Instances are cached; double-checked locking keeps
// concurrent first calls from building two clients.
func (f *Factory) Get(ctx context.Context, name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.Agent.Provider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	ctor, found := f.constructors[pc.Kind]
	if !found {
		return nil, fmt.Errorf("provider %s: kind %q cannot serve chat", name, pc.Kind)
	}

	p, err := ctor(ctx, pc, f.logger.With("name", name))
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	if pc.RateLimitPerMin > 0 {
		p = NewThrottled(p, pc.RateLimitPerMin, 0)
	}

	f.cache[name] = p
	return p, nil
}

// Chain returns agent.provider followed by agent.failoverChain. A chain of
// one is returned unwrapped.
func (f *Factory) Chain(ctx context.Context) (domain.Provider, error) {
	names := append([]string{f.cfg.Agent.Provider}, f.cfg.Agent.FailoverChain...)
	providers := make([]domain.Provider, 0, len(names))
	for _, name := range names {
		p, err := f.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return NewFailover(providers, f.logger), nil
}

// ContentGenerator returns the Gen AI client behind a gemini provider, for
// multimodal calls that bypass the chat abstraction.
func (f *Factory) ContentGenerator(ctx context.Context, name string) (ContentGenerator, error) {
	p, err := f.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if rl, ok := p.(*Throttled); ok {
		p = rl.Unwrap()
	}
	g, ok := p.(*Gemini)
	if !ok {
		return nil, fmt.Errorf("provider %s is not a gemini provider", name)
	}
	return g.ContentGenerator(), nil
}

// Transcriber builds the whisper provider with the given name.
func (f *Factory) Transcriber(name string) (*WhisperProvider, error) {
	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if pc.Kind != "whisper" {
		return nil, fmt.Errorf("provider %s is not a whisper provider", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	return NewWhisperProvider(WhisperConfig{
		APIBase: pc.APIBase,
		APIKey:  pc.APIKey,
		Model:   pc.DefaultModel,
		Logger:  f.logger.With("name", name),
	}), nil
}
