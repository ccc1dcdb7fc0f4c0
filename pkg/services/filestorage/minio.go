package filestorage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/omniaura/mapcache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("minio-client")

// MinIO uploads images to a MinIO server, usually a local container.
type MinIO struct {
	client    *minio.Client
	bucket    string
	publicURL string
	urlCache  *mapcache.MapCache[string, string]
	now       func() time.Time

	bucketMu    sync.Mutex
	bucketReady bool
}

func NewMinIO(ctx context.Context, cfg Config) (*MinIO, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("filestorage: minio endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	urlCache, err := newURLCache(ctx)
	if err != nil {
		return nil, err
	}
	return &MinIO{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
		urlCache:  urlCache,
		now:       time.Now,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "minio_ensure_bucket")
	defer span.End()
	span.SetAttributes(attribute.String("minio.bucket", m.bucket))

	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (m *MinIO) ensureBucketOnce(ctx context.Context) error {
	m.bucketMu.Lock()
	defer m.bucketMu.Unlock()
	if m.bucketReady {
		return nil
	}
	if err := m.EnsureBucket(ctx); err != nil {
		return err
	}
	m.bucketReady = true
	return nil
}

// Upload stores data under key and returns its URL.
func (m *MinIO) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "minio_upload")
	defer span.End()
	span.SetAttributes(
		attribute.String("minio.bucket", m.bucket),
		attribute.String("minio.key", key),
		attribute.Int("minio.size", len(data)),
	)

	if err := m.ensureBucketOnce(ctx); err != nil {
		return "", err
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"expires-at": expiresAt(m.now())},
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to upload to MinIO: %w", err)
	}
	if m.publicURL != "" {
		return m.publicURL + "/" + key, nil
	}
	return m.PresignURL(ctx, key)
}

func (m *MinIO) PresignURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", errors.New("empty key")
	}
	return m.urlCache.Get(key, func() (string, error) {
		u, err := m.client.PresignedGetObject(ctx, m.bucket, key, presignTTL, url.Values{})
		if err != nil {
			return "", fmt.Errorf("failed to presign %s: %w", key, err)
		}
		return u.String(), nil
	})
}
