package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"mailagent/internal/domain"
)

const cursorField = "last_processed_history_id"

// FirestoreStore implements domain.StateStore on Cloud Firestore. The cursor
// lives in a single document; each processed message id is one document in
// the processed collection.
type FirestoreStore struct {
	client    *firestore.Client
	opts      Options
	ownClient bool
}

var _ domain.StateStore = (*FirestoreStore)(nil)

type cursorDoc struct {
	Cursor string `firestore:"last_processed_history_id"`
}

// NewFirestoreStore connects to the given project and database ("" selects
// the default database).
func NewFirestoreStore(ctx context.Context, projectID string, opts Options) (*FirestoreStore, error) {
	opts = opts.withDefaults()
	database := opts.FirestoreDatabase
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return nil, fmt.Errorf("store: firestore client: %w", err)
	}
	return &FirestoreStore{client: client, opts: opts, ownClient: true}, nil
}

// NewFirestoreStoreWithClient wraps an existing client. Close does not
// close the client.
func NewFirestoreStoreWithClient(client *firestore.Client, opts Options) *FirestoreStore {
	return &FirestoreStore{client: client, opts: opts.withDefaults()}
}

func (f *FirestoreStore) cursorRef() *firestore.DocumentRef {
	return f.client.Collection(f.opts.CursorCollection).Doc(f.opts.CursorDocument)
}

func (f *FirestoreStore) LoadCursor(ctx context.Context) (string, bool, error) {
	snap, err := f.cursorRef().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: load cursor: %w", err)
	}
	var doc cursorDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", false, fmt.Errorf("store: decode cursor: %w", err)
	}
	if doc.Cursor == "" {
		return "", false, nil
	}
	return doc.Cursor, true, nil
}

func (f *FirestoreStore) SaveCursor(ctx context.Context, cursor string) error {
	data := map[string]any{
		cursorField: cursor,
		"timestamp": firestore.ServerTimestamp,
	}
	if !f.opts.MonotonicCursor {
		if _, err := f.cursorRef().Set(ctx, data); err != nil {
			return fmt.Errorf("store: save cursor: %w", err)
		}
		return nil
	}

	ref := f.cursorRef()
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			var doc cursorDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Cursor != "" && !cursorAdvances(doc.Cursor, cursor) {
				return nil
			}
		}
		return tx.Set(ref, data)
	})
	if err != nil {
		return fmt.Errorf("store: save cursor: %w", err)
	}
	return nil
}

func (f *FirestoreStore) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	ref := f.client.Collection(f.opts.ProcessedCollection).Doc(messageID)

	var first bool
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		first = false
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			return nil
		}
		first = true
		return tx.Create(ref, map[string]any{"timestamp": firestore.ServerTimestamp})
	})
	if err != nil {
		return false, fmt.Errorf("store: mark processed %s: %w", messageID, err)
	}
	return first, nil
}

func (f *FirestoreStore) Close() error {
	if !f.ownClient {
		return nil
	}
	return f.client.Close()
}
