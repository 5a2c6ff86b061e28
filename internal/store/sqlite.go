package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mailagent/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.StateStore and domain.KnowledgeStore on a
// single SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	logger    *slog.Logger
	monotonic bool
}

var (
	_ domain.StateStore     = (*SQLiteStore)(nil)
	_ domain.KnowledgeStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteStore(dbPath string, opts Options, logger *slog.Logger) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, monotonic: opts.MonotonicCursor}, nil
}

// DB exposes the underlying handle for status reporting.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) LoadCursor(ctx context.Context) (string, bool, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, "SELECT cursor FROM watch_state WHERE id = 1").Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: load cursor: %w", err)
	}
	return cursor, true, nil
}

func (s *SQLiteStore) SaveCursor(ctx context.Context, cursor string) error {
	if s.monotonic {
		return s.saveCursorMonotonic(ctx, cursor)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_state (id, cursor, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		cursor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: save cursor: %w", err)
	}
	return nil
}

func (s *SQLiteStore) saveCursorMonotonic(ctx context.Context, cursor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save cursor: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT cursor FROM watch_state WHERE id = 1").Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("store: save cursor: %w", err)
	case !cursorAdvances(current, cursor):
		s.logger.Debug("cursor not advanced", "current", current, "proposed", cursor)
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO watch_state (id, cursor, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		cursor, time.Now().UTC()); err != nil {
		return fmt.Errorf("store: save cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save cursor: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_messages (message_id, processed_at) VALUES (?, ?) ON CONFLICT(message_id) DO NOTHING",
		messageID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("store: mark processed %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark processed %s: %w", messageID, err)
	}
	return n == 1, nil
}

// --- knowledge index ---

func (s *SQLiteStore) AddDocument(ctx context.Context, doc domain.Document, chunks []domain.DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: add document: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM document_chunks WHERE document_id = ?", doc.ID); err != nil {
		return fmt.Errorf("store: clear chunks of %s: %w", doc.ID, err)
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, name, mime_type, size, chunk_count, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, mime_type = excluded.mime_type, size = excluded.size,
			chunk_count = excluded.chunk_count, created_at = excluded.created_at`,
		doc.ID, doc.Name, doc.MimeType, doc.Size, len(chunks), createdAt); err != nil {
		return fmt.Errorf("store: upsert document %s: %w", doc.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO document_chunks (document_id, chunk_index, content) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("store: prepare chunk insert: %w", err)
	}
	defer stmt.Close()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, doc.ID, c.ChunkIndex, c.Content); err != nil {
			return fmt.Errorf("store: insert chunk %d of %s: %w", c.ChunkIndex, doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: add document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, query string, topK int) ([]domain.KnowledgeSearchResult, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 3
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.document_id, c.chunk_index, c.content, d.name, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN document_chunks c ON c.id = chunks_fts.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, topK)
	if err != nil {
		return nil, fmt.Errorf("store: search knowledge: %w", err)
	}
	defer rows.Close()

	var results []domain.KnowledgeSearchResult
	for rows.Next() {
		var r domain.KnowledgeSearchResult
		var rank float64
		if err := rows.Scan(&r.Chunk.DocumentID, &r.Chunk.ChunkIndex, &r.Chunk.Content, &r.DocName, &rank); err != nil {
			return nil, fmt.Errorf("store: scan search result: %w", err)
		}
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, mime_type, size, chunk_count, created_at FROM documents ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.Name, &d.MimeType, &d.Size, &d.ChunkCount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete document: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM document_chunks WHERE document_id = ?", id); err != nil {
		return fmt.Errorf("store: delete chunks of %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
		return fmt.Errorf("store: delete document %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ftsQuery turns free text into an FTS5 OR-query of quoted terms so that
// user punctuation never reaches the FTS parser.
func ftsQuery(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r == '_' || r == '-' || r == '\'' || isWordRune(r))
	})
	terms := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.Trim(f, "-'"))
		if len([]rune(f)) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}

func isWordRune(r rune) bool {
	return r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127
}
