package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultUploadExpiry   = 15 * time.Minute
	defaultDownloadExpiry = time.Hour
	maxDownloadExpiry     = 12 * time.Hour
)

var (
	errNoSigner           = errors.New("storage: signer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	errExpiryTooLong      = errors.New("storage: expiry exceeds permitted maximum")
)

// Client generates signed URLs for objects in the media bucket.
type Client struct {
	signer      Signer
	bucket      string
	scheme      storage.SigningScheme
	now         func() time.Time
	maxDownload time.Duration
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithSigningScheme overrides the signing scheme (defaults to V4).
func WithSigningScheme(scheme storage.SigningScheme) ClientOption {
	return func(c *Client) {
		if scheme != 0 {
			c.scheme = scheme
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithMaxDownloadExpiry caps the lifetime of download URLs.
func WithMaxDownloadExpiry(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.maxDownload = d
		}
	}
}

// NewClient constructs a signed URL client for the bucket.
func NewClient(signer Signer, bucket string, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}

	client := &Client{
		signer:      signer,
		bucket:      bucket,
		scheme:      storage.SigningSchemeV4,
		now:         time.Now,
		maxDownload: maxDownloadExpiry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// SignedURL describes a generated signed URL.
type SignedURL struct {
	URL       string
	Method    string
	ExpiresAt time.Time
	Headers   map[string]string
}

// UploadOptions control upload URL generation.
type UploadOptions struct {
	ContentType string
	MaxSize     int64
	ExpiresIn   time.Duration
}

// PresignUpload returns a PUT URL the caller uploads the object bytes to directly.
func (c *Client) PresignUpload(ctx context.Context, key string, opts UploadOptions) (SignedURL, error) {
	if c == nil {
		return SignedURL{}, errNoSigner
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return SignedURL{}, errInvalidObject
	}
	contentType := strings.TrimSpace(opts.ContentType)
	if contentType == "" {
		return SignedURL{}, errContentTypeMissing
	}

	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultUploadExpiry
	}
	expiresAt := c.now().Add(expiry)

	headers := map[string]string{"Content-Type": contentType}
	urlOpts := c.baseOptions(ctx, httpMethodPut, expiresAt)
	urlOpts.ContentType = contentType
	if opts.MaxSize > 0 {
		sizeRange := fmt.Sprintf("0,%d", opts.MaxSize)
		urlOpts.Headers = []string{"x-goog-content-length-range:" + sizeRange}
		headers["x-goog-content-length-range"] = sizeRange
	}

	signed, err := storage.SignedURL(c.bucket, key, urlOpts)
	if err != nil {
		return SignedURL{}, fmt.Errorf("storage: sign upload url: %w", err)
	}
	return SignedURL{URL: signed, Method: httpMethodPut, ExpiresAt: expiresAt, Headers: headers}, nil
}

// PresignDownload returns a short-lived GET URL for the object.
func (c *Client) PresignDownload(ctx context.Context, key string, expiresIn time.Duration) (SignedURL, error) {
	if c == nil {
		return SignedURL{}, errNoSigner
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return SignedURL{}, errInvalidObject
	}
	if expiresIn <= 0 {
		expiresIn = defaultDownloadExpiry
	}
	if expiresIn > c.maxDownload {
		return SignedURL{}, errExpiryTooLong
	}
	expiresAt := c.now().Add(expiresIn)

	signed, err := storage.SignedURL(c.bucket, key, c.baseOptions(ctx, httpMethodGet, expiresAt))
	if err != nil {
		return SignedURL{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return SignedURL{URL: signed, Method: httpMethodGet, ExpiresAt: expiresAt}, nil
}

func (c *Client) baseOptions(ctx context.Context, method string, expiresAt time.Time) *storage.SignedURLOptions {
	return &storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         c.scheme,
		Method:         method,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}
}

const (
	httpMethodPut = "PUT"
	httpMethodGet = "GET"
)
