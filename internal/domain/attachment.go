package domain

import "context"

// AttachmentDecoder turns raw attachment bytes into text.
type AttachmentDecoder interface {
	Decode(ctx context.Context, data []byte, mimeType string) (string, error)
}

// ObjectStore reads finalized objects from bucket storage.
type ObjectStore interface {
	Read(ctx context.Context, bucket, name string) ([]byte, error)
}
