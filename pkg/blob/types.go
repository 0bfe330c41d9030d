// Package blob stores archived journal segments outside the sqlite
// file. Keys are slash-separated paths chosen by the caller.
package blob

import (
	"context"
	"io"
)

type BlobStore interface {
	// Put writes the reader's content under key, replacing any
	// existing blob.
	Put(ctx context.Context, key string, reader io.Reader) error

	// Get opens the blob at key for reading. The caller closes it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List reports all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the blob at key.
	Delete(ctx context.Context, key string) error
}
