package storage

import (
	"context"
	"io"
)

// ObjectStorage is the read side of the object store holding file contents.
type ObjectStorage interface {
	// Fetch streams the object stored under key. Caller closes the reader.
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// BucketExists reports whether the bucket is present.
	BucketExists(ctx context.Context, bucket string) (bool, error)
}
