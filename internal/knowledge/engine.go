// Package knowledge ingests bucket objects into the passage index queried
// by the knowledge_base_search tool.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"mailagent/internal/domain"
)

// ProcessingError reports a failure to load, decode or chunk an object.
// It is not retryable: the same object fails the same way.
type ProcessingError struct {
	Op  string // load | decode | chunk
	Err error
}

func (e *ProcessingError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *ProcessingError) Unwrap() error { return e.Err }

// Engine loads objects, splits them and upserts the chunks.
type Engine struct {
	store    domain.KnowledgeStore
	objects  domain.ObjectStore
	pdf      domain.AttachmentDecoder
	splitter *Splitter
	logger   *slog.Logger
}

type EngineConfig struct {
	Store   domain.KnowledgeStore
	Objects domain.ObjectStore
	// PDF decodes .pdf objects. Without it PDFs fail to decode.
	PDF       domain.AttachmentDecoder
	ChunkSize int // runes per chunk (default: 512)
	Overlap   int // runes shared by consecutive chunks (default: 50)
	Logger    *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
		if cfg.Overlap == 0 {
			cfg.Overlap = 50
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		store:    cfg.Store,
		objects:  cfg.Objects,
		pdf:      cfg.PDF,
		splitter: NewSplitter(cfg.ChunkSize, cfg.Overlap),
		logger:   cfg.Logger.With("component", "knowledge"),
	}
}

// DocumentID is the index key of a bucket object.
func DocumentID(bucket, name string) string {
	return "gs://" + bucket + "/" + name
}

// Ingest indexes bucket/name, replacing any earlier chunks of the same
// object. Failures before the upsert are returned as *ProcessingError.
func (e *Engine) Ingest(ctx context.Context, bucket, name string) (*domain.Document, error) {
	id := DocumentID(bucket, name)
	if bucket == "" || name == "" {
		return nil, &ProcessingError{Op: "load", Err: errors.New("bucket and name are required")}
	}

	data, err := e.objects.Read(ctx, bucket, name)
	if err != nil {
		return nil, &ProcessingError{Op: "load", Err: err}
	}

	mimeType := detectMIME(name, data)
	text, err := e.decode(ctx, data, mimeType)
	if err != nil {
		return nil, &ProcessingError{Op: "decode", Err: err}
	}

	parts := e.splitter.Split(text)
	if len(parts) == 0 {
		return nil, &ProcessingError{Op: "chunk", Err: fmt.Errorf("%s has no text content", id)}
	}
	chunks := make([]domain.DocumentChunk, len(parts))
	for i, p := range parts {
		chunks[i] = domain.DocumentChunk{DocumentID: id, Content: p, ChunkIndex: i}
	}

	doc := domain.Document{
		ID:         id,
		Name:       name,
		MimeType:   mimeType,
		Size:       int64(len(data)),
		ChunkCount: len(chunks),
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.AddDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", id, err)
	}

	e.logger.Info("document indexed", "id", id, "chunks", len(chunks), "size", len(data))
	return &doc, nil
}

func (e *Engine) decode(ctx context.Context, data []byte, mimeType string) (string, error) {
	if strings.Contains(mimeType, "pdf") {
		if e.pdf == nil {
			return "", errors.New("no pdf decoder configured")
		}
		return e.pdf.Decode(ctx, data, mimeType)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("unsupported content type %s", mimeType)
	}
	return string(data), nil
}

// ListDocuments returns all indexed documents.
func (e *Engine) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	return e.store.ListDocuments(ctx)
}

// DeleteDocument removes a document and its chunks.
func (e *Engine) DeleteDocument(ctx context.Context, id string) error {
	return e.store.DeleteDocument(ctx, id)
}

func detectMIME(name string, data []byte) string {
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return "application/pdf"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
