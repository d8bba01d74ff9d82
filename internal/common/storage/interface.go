// Package storage abstracts the object store that archives submitted source
// code.
package storage

import (
	"context"
	"io"
)

// ObjectStorage stores and retrieves immutable blobs.
type ObjectStorage interface {
	// Put stores an object under key. size must match the reader length.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Get opens the object stored under key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}
