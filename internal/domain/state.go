package domain

import "context"

// StateStore persists the ingestion cursor and the processed-message ledger.
type StateStore interface {
	// LoadCursor returns the stored cursor. found is false when the watch has
	// never been initialized.
	LoadCursor(ctx context.Context) (cursor string, found bool, err error)
	SaveCursor(ctx context.Context, cursor string) error
	// MarkProcessed atomically records messageID. It returns true for exactly
	// one caller per id.
	MarkProcessed(ctx context.Context, messageID string) (first bool, err error)
	Close() error
}
