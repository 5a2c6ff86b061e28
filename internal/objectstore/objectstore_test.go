package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDir_Read(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "kb", "policies"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kb", "policies", "refunds.txt"), []byte("30 days"), 0o644))

	d := NewDir(root)
	data, err := d.Read(context.Background(), "kb", "policies/refunds.txt")
	require.NoError(t, err)
	assert.Equal(t, "30 days", string(data))

	_, err = d.Read(context.Background(), "kb", "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.Read(context.Background(), "kb", "../../etc/passwd")
	assert.Error(t, err)
}

func TestDir_SizeLimit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "kb"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kb", "big.txt"), []byte(strings.Repeat("x", 11)), 0o644))

	d := NewDir(root)
	d.maxSize = 10
	_, err := d.Read(context.Background(), "kb", "big.txt")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestReadLimited(t *testing.T) {
	data, err := readLimited(strings.NewReader("abc"), 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = readLimited(strings.NewReader("abcd"), 3)
	assert.ErrorIs(t, err, ErrTooLarge)
}
