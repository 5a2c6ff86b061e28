package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailagent/internal/agent"
	"mailagent/internal/attachment"
	"mailagent/internal/config"
	"mailagent/internal/domain"
	"mailagent/internal/gmail"
	"mailagent/internal/knowledge"
	"mailagent/internal/metrics"
	"mailagent/internal/objectstore"
	"mailagent/internal/pipeline"
	"mailagent/internal/provider"
	"mailagent/internal/renewal"
	"mailagent/internal/store"
	"mailagent/internal/tool"
)

// app holds the collaborators built once at startup.
type app struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	state    domain.StateStore
	kb       *store.SQLiteStore
	objects  *objectstore.GCS
	source   *gmail.Client
	agent    *agent.Agent
	pipeline *pipeline.Pipeline
	ingest   *knowledge.Engine
	renewer  *renewal.Renewer
}

func (a *app) Close() error {
	var errs []error
	if a.objects != nil {
		errs = append(errs, a.objects.Close())
	}
	if a.kb != nil {
		errs = append(errs, a.kb.Close())
	}
	if a.state != nil {
		errs = append(errs, a.state.Close())
	}
	return errors.Join(errs...)
}

func openState(ctx context.Context, cfg *config.Config) (domain.StateStore, error) {
	opts := store.Options{
		MonotonicCursor:     cfg.State.MonotonicCursor,
		CursorCollection:    cfg.State.CursorCollection,
		CursorDocument:      cfg.State.CursorDoc,
		ProcessedCollection: cfg.State.ProcessedCollection,
		FirestoreDatabase:   cfg.State.FirestoreDatabase,
	}
	dsn := cfg.State.DSN
	if dsn == "firestore://" && cfg.State.FirestoreProject != "" {
		dsn += cfg.State.FirestoreProject
	}
	st, err := store.Open(ctx, dsn, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return st, nil
}

func openKnowledge(cfg *config.Config) (*store.SQLiteStore, error) {
	kb, err := store.NewSQLiteStore(cfg.Knowledge.DBPath, store.Options{}, logger)
	if err != nil {
		return nil, fmt.Errorf("open knowledge index: %w", err)
	}
	return kb, nil
}

func newMessageSource(ctx context.Context, cfg *config.Config) (*gmail.Client, error) {
	ts, err := gmail.TokenSource(ctx, cfg.Mailbox.TokenFile)
	if err != nil {
		return nil, err
	}
	svc, err := gmail.NewService(ctx, ts)
	if err != nil {
		return nil, err
	}
	return gmail.NewClient(gmail.ClientConfig{
		Service:     svc,
		Address:     cfg.Mailbox.Address,
		Topic:       cfg.Mailbox.Topic,
		WatchLabels: cfg.Mailbox.WatchLabels,
		Logger:      logger,
	})
}

// newRenewer wires the pieces needed by renew-watch only.
func newRenewer(ctx context.Context, cfg *config.Config) (*renewal.Renewer, func() error, error) {
	st, err := openState(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	src, err := newMessageSource(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	r, err := renewal.NewRenewer(renewal.RenewerConfig{Source: src, State: st, Logger: logger})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return r, st.Close, nil
}

// newIngestEngine wires the knowledge ingestion path. objects may be nil
// when the engine is only used for listing or deleting.
func newIngestEngine(kb *store.SQLiteStore, objects domain.ObjectStore, cfg *config.Config) *knowledge.Engine {
	return knowledge.NewEngine(knowledge.EngineConfig{
		Store:     kb,
		Objects:   objects,
		PDF:       &attachment.PDFDecoder{},
		ChunkSize: cfg.Knowledge.ChunkSize,
		Overlap:   cfg.Knowledge.ChunkOverlap,
		Logger:    logger,
	})
}

func buildApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.state, err = openState(ctx, cfg); err != nil {
		return nil, err
	}
	if a.kb, err = openKnowledge(cfg); err != nil {
		return nil, err
	}
	if a.source, err = newMessageSource(ctx, cfg); err != nil {
		return nil, err
	}

	prompts := agent.DefaultPrompts()
	if cfg.Agent.PromptsFile != "" {
		if prompts, err = agent.LoadPrompts(cfg.Agent.PromptsFile); err != nil {
			return nil, err
		}
	}

	factory := provider.NewFactory(cfg, logger)
	chat, err := factory.Chain(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat provider: %w", err)
	}
	if err := chat.Healthy(ctx); err != nil {
		logger.Warn("chat provider unhealthy at startup", "provider", chat.Name(), "err", err)
	}

	callTimeout := time.Duration(cfg.Agent.CallTimeoutSeconds) * time.Second
	extractorCfg := attachment.ExtractorConfig{
		PDF:         &attachment.PDFDecoder{},
		CallTimeout: callTimeout,
		Logger:      logger,
	}
	if name := cfg.Attachments.ImageProvider; name != "" {
		gen, err := factory.ContentGenerator(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("image provider: %w", err)
		}
		extractorCfg.Image = attachment.NewImageDecoder(attachment.ImageDecoderConfig{
			Models: gen,
			Model:  cfg.Providers[name].DefaultModel,
			Prompt: prompts.ImageDescription,
		})
	}
	if name := cfg.Attachments.AudioProvider; name != "" {
		w, err := factory.Transcriber(name)
		if err != nil {
			return nil, fmt.Errorf("audio provider: %w", err)
		}
		extractorCfg.Audio = attachment.NewAudioDecoder(w)
	}

	tools := tool.NewRegistry(logger)
	if err := tools.Register(tool.NewKnowledgeSearchTool(a.kb, cfg.Knowledge.RetrieverK)); err != nil {
		return nil, err
	}
	if err := tools.Validate(); err != nil {
		return nil, err
	}

	a.agent, err = agent.New(agent.Config{
		Provider:         chat,
		Extractor:        attachment.NewExtractor(extractorCfg),
		Tools:            tools,
		Prompts:          prompts,
		Model:            cfg.Agent.Model,
		Temperature:      cfg.Agent.Temperature,
		MaxSteps:         cfg.Agent.MaxSteps,
		CallTimeout:      callTimeout,
		MaxParallelTools: cfg.Agent.MaxParallelTools,
		Metrics:          a.metrics,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	mailbox, err := a.source.Address(ctx)
	if err != nil {
		return nil, fmt.Errorf("mailbox address: %w", err)
	}
	a.pipeline, err = pipeline.New(pipeline.Config{
		Source:  a.source,
		State:   a.state,
		Agent:   a.agent,
		Mailbox: mailbox,
		Metrics: a.metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	if a.objects, err = objectstore.NewGCS(ctx, objectstore.GCSConfig{Project: cfg.Storage.Project, Logger: logger}); err != nil {
		return nil, err
	}
	a.ingest = newIngestEngine(a.kb, a.objects, cfg)

	a.renewer, err = renewal.NewRenewer(renewal.RenewerConfig{Source: a.source, State: a.state, Logger: logger})
	if err != nil {
		return nil, err
	}
	return a, nil
}
