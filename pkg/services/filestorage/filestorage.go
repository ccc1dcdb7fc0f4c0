package filestorage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ditto-assistant/txt2img/cfg/envs"
	"github.com/ditto-assistant/txt2img/cfg/secr"
	"github.com/omniaura/mapcache"
)

const (
	presignTTL = 24 * time.Hour
	// retention is advertised through the expires-at metadata tag.
	// The bucket's lifecycle policy does the deleting.
	retention = 24 * time.Hour
)

// Config describes an S3-compatible bucket.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// PublicURL, when set, is joined with the object key to build image URLs.
	// Otherwise uploads return presigned URLs.
	PublicURL string
	UseSSL    bool
}

// ConfigFromEnv reads the bucket settings loaded by envs and secr.
func ConfigFromEnv() Config {
	return Config{
		Endpoint:        envs.BUCKET_ENDPOINT,
		Region:          envs.BUCKET_REGION,
		Bucket:          envs.BUCKET_NAME,
		AccessKeyID:     envs.BUCKET_ACCESS_KEY_ID,
		SecretAccessKey: secr.BUCKET_SECRET_ACCESS_KEY.String(),
		PublicURL:       envs.PUBLIC_URL,
		UseSSL:          envs.BUCKET_USE_SSL,
	}
}

func (c Config) validate() error {
	if c.Bucket == "" {
		return errors.New("filestorage: bucket name is required")
	}
	return nil
}

func expiresAt(now time.Time) string {
	return now.Add(retention).UTC().Format(time.RFC3339)
}

func newURLCache(ctx context.Context) (*mapcache.MapCache[string, string], error) {
	return mapcache.New[string, string](
		mapcache.WithTTL(presignTTL/2),
		mapcache.WithCleanup(ctx, presignTTL),
	)
}

// Client uploads images to Cloudflare R2 or any other S3-compatible store.
type Client struct {
	S3            *s3.S3
	urlCache      *mapcache.MapCache[string, string]
	contentBucket *string
	publicURL     string
	now           func() time.Time
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	urlCache, err := newURLCache(ctx)
	if err != nil {
		return nil, err
	}
	s3Config := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Endpoint != "" {
		s3Config.Endpoint = aws.String(cfg.Endpoint)
	}
	mySession, err := session.NewSession(s3Config)
	if err != nil {
		return nil, err
	}
	cl := &Client{
		S3:            s3.New(mySession),
		urlCache:      urlCache,
		contentBucket: aws.String(cfg.Bucket),
		publicURL:     cfg.PublicURL,
		now:           time.Now,
	}
	return cl, nil
}

// Upload stores data under key as a public-read object and returns its URL.
func (cl *Client) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := cl.S3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      cl.contentBucket,
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         aws.String(s3.ObjectCannedACLPublicRead),
		Metadata: map[string]*string{
			"expires-at": aws.String(expiresAt(cl.now())),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	slog.Debug("uploaded image", "bucket", *cl.contentBucket, "key", key, "bytes", len(data))
	if cl.publicURL != "" {
		return cl.publicURL + "/" + key, nil
	}
	return cl.PresignURL(ctx, key)
}

// PresignURL returns a GET URL for key that stays valid for at least half a day.
func (cl *Client) PresignURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", errors.New("empty key")
	}
	return cl.urlCache.Get(key, func() (string, error) {
		objReq, _ := cl.S3.GetObjectRequest(&s3.GetObjectInput{
			Bucket: cl.contentBucket,
			Key:    aws.String(key),
		})
		objReq.SetContext(ctx)
		return objReq.Presign(presignTTL)
	})
}
