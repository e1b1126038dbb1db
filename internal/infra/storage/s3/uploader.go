// Package s3 stores voice note audio in an S3-compatible bucket. Clients
// fetch the blobs directly by URL, so the bucket is opened for anonymous
// reads on first use.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Voice notes are raw PCM; callers override per object when they store
// anything else.
const defaultContentType = "audio/L16"

// Client uploads audio blobs and hands back the public playback URL that gets
// persisted on the message.
type Client struct {
	bucket     string
	publicBase string
	mc         *minio.Client
	logger     *slog.Logger

	initOnce sync.Once
	initErr  error
}

func NewClient(endpoint string, useSSL bool, accessKey, secretKey, bucket, publicBaseURL string, logger *slog.Logger) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("s3: endpoint required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("s3: bucket required")
	}

	mc, err := minio.New(hostOf(endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(accessKey), strings.TrimSpace(secretKey), ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}

	base := strings.TrimSpace(publicBaseURL)
	if base == "" {
		base = endpoint
	}
	return &Client{
		bucket:     bucket,
		publicBase: strings.TrimRight(base, "/"),
		mc:         mc,
		logger:     logger,
	}, nil
}

// Upload stores one blob and returns its playback URL.
func (c *Client) Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("s3: object key required")
	}
	if reader == nil {
		return "", errors.New("s3: reader required")
	}
	if err := c.ensureBucket(ctx); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	if _, err := c.mc.PutObject(ctx, c.bucket, key, reader, -1, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("s3: put object: %w", err)
	}

	blobURL := c.objectURL(key)
	if c.logger != nil {
		c.logger.Debug("voice blob stored", "bucket", c.bucket, "key", key, "url", blobURL)
	}
	return blobURL, nil
}

// ensureBucket creates the bucket and opens it for anonymous reads once per
// process. Playback URLs are fetched straight from the bucket, not proxied.
func (c *Client) ensureBucket(ctx context.Context) error {
	c.initOnce.Do(func() {
		exists, err := c.mc.BucketExists(ctx, c.bucket)
		if err != nil {
			c.initErr = fmt.Errorf("s3: check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			c.initErr = fmt.Errorf("s3: create bucket: %w", err)
			return
		}
		policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, c.bucket)
		if err := c.mc.SetBucketPolicy(ctx, c.bucket, policy); err != nil {
			c.initErr = fmt.Errorf("s3: set bucket policy: %w", err)
		}
	})
	return c.initErr
}

func (c *Client) objectURL(key string) string {
	return c.publicBase + "/" + c.bucket + "/" + strings.TrimLeft(key, "/")
}

// hostOf strips an optional scheme; minio wants a bare host:port.
func hostOf(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}
