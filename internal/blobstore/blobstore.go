package blobstore

import (
	"context"
	"io"

	"github.com/vbonduro/homewiz/internal/domain"
)

var (
	// ErrNotFound matches any blob store error for a missing object.
	ErrNotFound = &domain.StoreError{Reason: domain.ReasonNotFound}
	// ErrBucketNotFound matches any blob store error for a missing bucket.
	ErrBucketNotFound = &domain.StoreError{Reason: domain.ReasonBucketNotFound}
)

// BlobStore holds uploaded media under storage paths and exposes them by public URL.
type BlobStore interface {
	Put(ctx context.Context, path string, r io.Reader, contentType string) (publicURL string, err error)
	Get(ctx context.Context, path string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, path string) error
	// List returns every storage path beginning with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	URL(path string) string
}
