package filestorage

import (
	"context"
	"fmt"
)

// Store is an uploaded-image backend.
type Store interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
	PresignURL(ctx context.Context, key string) (string, error)
}

const (
	BackendS3    = "s3"
	BackendMinIO = "minio"
)

// New builds the store named by backend.
func New(ctx context.Context, backend string, cfg Config) (Store, error) {
	switch backend {
	case BackendS3, "":
		return NewClient(ctx, cfg)
	case BackendMinIO:
		return NewMinIO(ctx, cfg)
	}
	return nil, fmt.Errorf("filestorage: unknown backend %q", backend)
}
