package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mailagent/internal/domain"

	_ "github.com/lib/pq"
)

const (
	postgresCursorTable      = "mailagent_watch_state"
	postgresProcessedTable   = "mailagent_processed_messages"
	postgresCursorKey        = "default"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore implements domain.StateStore on PostgreSQL. Tables are
// created lazily on first use.
type PostgresStore struct {
	dsn       string
	monotonic bool
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

var _ domain.StateStore = (*PostgresStore)(nil)

func NewPostgresStore(dsn string, opts Options) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidDSN
	}
	return &PostgresStore{
		dsn:       dsn,
		monotonic: opts.MonotonicCursor,
		openDB:    sql.Open,
	}, nil
}

func (p *PostgresStore) LoadCursor(ctx context.Context) (string, bool, error) {
	if err := p.ensureReady(ctx); err != nil {
		return "", false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT cursor FROM %s WHERE state_key = $1", postgresQuoteIdentifier(postgresCursorTable))
	var cursor string
	err := p.db.QueryRowContext(ctx, query, postgresCursorKey).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: load cursor: %w", err)
	}
	return cursor, true, nil
}

func (p *PostgresStore) SaveCursor(ctx context.Context, cursor string) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	table := postgresQuoteIdentifier(postgresCursorTable)
	query := fmt.Sprintf(`
		INSERT INTO %s (state_key, cursor, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (state_key)
		DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = NOW()`, table)
	if p.monotonic {
		query += fmt.Sprintf(`
		WHERE CASE
			WHEN EXCLUDED.cursor ~ '^[0-9]+$' AND %[1]s.cursor ~ '^[0-9]+$'
				THEN EXCLUDED.cursor::numeric > %[1]s.cursor::numeric
			ELSE TRUE
		END`, table)
	}
	if _, err := p.db.ExecContext(ctx, query, postgresCursorKey, cursor); err != nil {
		return fmt.Errorf("store: save cursor: %w", err)
	}
	return nil
}

func (p *PostgresStore) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	if err := p.ensureReady(ctx); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (message_id, processed_at) VALUES ($1, NOW())
		ON CONFLICT (message_id) DO NOTHING`, postgresQuoteIdentifier(postgresProcessedTable))
	res, err := p.db.ExecContext(ctx, query, messageID)
	if err != nil {
		return false, fmt.Errorf("store: mark processed %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark processed %s: %w", messageID, err)
	}
	return n == 1, nil
}

func (p *PostgresStore) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresStore) ensureReady(ctx context.Context) error {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = fmt.Errorf("store: open postgres: %w", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postgresOperationTimeout)
		defer cancel()

		stmts := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					state_key  TEXT PRIMARY KEY,
					cursor     TEXT NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`, postgresQuoteIdentifier(postgresCursorTable)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					message_id   TEXT PRIMARY KEY,
					processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`, postgresQuoteIdentifier(postgresProcessedTable)),
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				p.initErr = fmt.Errorf("store: create postgres tables: %w", err)
				return
			}
		}
		p.db = db
	})
	return p.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
