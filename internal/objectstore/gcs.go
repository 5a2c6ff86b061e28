// Package objectstore reads finalized objects from bucket storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"mailagent/internal/domain"
)

// DefaultMaxObjectSize bounds how much of one object is read into memory.
const DefaultMaxObjectSize = 32 << 20

var (
	ErrNotFound = errors.New("objectstore: object not found")
	ErrTooLarge = errors.New("objectstore: object too large")
)

type GCSConfig struct {
	// Client is used as-is when set; otherwise one is created with
	// application default credentials.
	Client        *storage.Client
	Project       string
	MaxObjectSize int64
	Logger        *slog.Logger
}

// GCS reads objects from Google Cloud Storage.
type GCS struct {
	client    *storage.Client
	ownClient bool
	maxSize   int64
	logger    *slog.Logger
}

var _ domain.ObjectStore = (*GCS)(nil)

func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.MaxObjectSize <= 0 {
		cfg.MaxObjectSize = DefaultMaxObjectSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &GCS{
		client:  cfg.Client,
		maxSize: cfg.MaxObjectSize,
		logger:  cfg.Logger.With("component", "objectstore"),
	}
	if g.client == nil {
		var opts []option.ClientOption
		if cfg.Project != "" {
			opts = append(opts, option.WithQuotaProject(cfg.Project))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("objectstore: create storage client: %w", err)
		}
		g.client = client
		g.ownClient = true
	}
	return g, nil
}

// Read downloads bucket/name in full.
func (g *GCS) Read(ctx context.Context, bucket, name string) ([]byte, error) {
	r, err := g.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, bucket, name)
		}
		return nil, fmt.Errorf("objectstore: open gs://%s/%s: %w", bucket, name, err)
	}
	defer r.Close()

	if r.Attrs.Size > g.maxSize {
		return nil, fmt.Errorf("%w: gs://%s/%s is %d bytes", ErrTooLarge, bucket, name, r.Attrs.Size)
	}
	data, err := readLimited(r, g.maxSize)
	if err != nil {
		return nil, fmt.Errorf("objectstore: read gs://%s/%s: %w", bucket, name, err)
	}
	g.logger.Debug("object read", "bucket", bucket, "name", name, "bytes", len(data))
	return data, nil
}

func (g *GCS) Close() error {
	if !g.ownClient {
		return nil
	}
	return g.client.Close()
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, ErrTooLarge
	}
	return data, nil
}
