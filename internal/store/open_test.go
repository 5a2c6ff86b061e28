package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Schemes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, "memory://", Options{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, "sqlite://"+filepath.Join(dir, "a.db"), Options{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	s, err = Open(ctx, filepath.Join(dir, "b.db"), Options{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	s, err = Open(ctx, "postgres://user@localhost/mail?sslmode=disable", Options{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &PostgresStore{}, s)
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, "", Options{}, testLogger())
	assert.ErrorIs(t, err, ErrInvalidDSN)

	_, err = Open(ctx, "redis://localhost", Options{}, testLogger())
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = Open(ctx, "firestore://", Options{}, testLogger())
	assert.ErrorIs(t, err, ErrInvalidDSN)
}
