// Package store persists the ingestion cursor and the processed-message
// ledger. Backends are selected by DSN scheme; see Open.
package store

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrUnsupportedScheme = errors.New("store: unsupported dsn scheme")
	ErrInvalidDSN        = errors.New("store: invalid dsn")
)

// Options tunes backend behavior shared by every StateStore.
type Options struct {
	// MonotonicCursor makes SaveCursor a no-op unless the new cursor is
	// numerically greater than the stored one.
	MonotonicCursor bool

	// Firestore layout. Defaults match the hosted deployment.
	CursorCollection    string
	CursorDocument      string
	ProcessedCollection string
	FirestoreDatabase   string
}

func (o Options) withDefaults() Options {
	if o.CursorCollection == "" {
		o.CursorCollection = "agent_config"
	}
	if o.CursorDocument == "" {
		o.CursorDocument = "gmail_watch_state"
	}
	if o.ProcessedCollection == "" {
		o.ProcessedCollection = "processed_messages"
	}
	return o
}

// cursorAdvances reports whether next should replace current under the
// monotonic policy. Non-numeric tokens always replace.
func cursorAdvances(current, next string) bool {
	c, errC := strconv.ParseUint(strings.TrimSpace(current), 10, 64)
	n, errN := strconv.ParseUint(strings.TrimSpace(next), 10, 64)
	if errC != nil || errN != nil {
		return true
	}
	return n > c
}
