package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mailagent/internal/domain"
)

// Dir serves objects from a local directory laid out as root/bucket/name.
// It backs local development and the knowledge ingest CLI.
type Dir struct {
	root    string
	maxSize int64
}

var _ domain.ObjectStore = (*Dir)(nil)

func NewDir(root string) *Dir {
	return &Dir{root: root, maxSize: DefaultMaxObjectSize}
}

func (d *Dir) Read(ctx context.Context, bucket, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel := filepath.Join(bucket, filepath.FromSlash(name))
	if !filepath.IsLocal(rel) || strings.Contains(bucket, string(filepath.Separator)) {
		return nil, fmt.Errorf("objectstore: invalid object path %s/%s", bucket, name)
	}

	f, err := os.Open(filepath.Join(d.root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, name)
		}
		return nil, fmt.Errorf("objectstore: %w", err)
	}
	defer f.Close()
	return readLimited(f, d.maxSize)
}
