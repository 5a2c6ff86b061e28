package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, 1, ms[0].version)
	assert.Equal(t, "watch_state", ms[0].name)
	assert.Equal(t, 2, ms[1].version)
	assert.Contains(t, ms[1].sql, "fts5")
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)
	require.NoError(t, RunMigrations(db, testLogger()))

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	for _, table := range []string{"watch_state", "processed_messages", "documents", "document_chunks", "chunks_fts"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE name = ?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
	for _, trigger := range []string{"chunks_ai", "chunks_ad"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'trigger' AND name = ?", trigger).Scan(&name)
		assert.NoError(t, err, "trigger %s", trigger)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, RunMigrations(db, testLogger()))
	require.NoError(t, RunMigrations(db, testLogger()))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestGetSchemaVersion_NoTable(t *testing.T) {
	version, err := GetSchemaVersion(testDB(t))
	require.NoError(t, err)
	assert.Zero(t, version)
}
