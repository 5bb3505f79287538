package storage

import (
	"context"
	"io"
)

// ObjectStorage is the bucket the marketplace adapter mirrors listing images into.
type ObjectStorage interface {
	// Put stores an object under key.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// Exists reports whether key is already stored.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns the public link for key.
	URL(key string) string
}
