package ports

import (
	"context"
	"io"
	"time"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// ObjectKey is how the provider addresses the stored object afterwards.
	// localfs and s3 echo the input key; gdrive returns the Drive file id.
	ObjectKey string
	Size      int64
}

type SignedURLOutput struct {
	URL       string
	ExpiresAt time.Time
}

type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// StorageProvider is implemented by localfs, gdrive and s3.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error

	// GetSignedURL returns an empty URL when the provider has no public
	// addressing; callers fall back to the API's /videos route.
	GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (SignedURLOutput, error)

	// ListObjects returns objects whose key (or name) starts with prefix.
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
