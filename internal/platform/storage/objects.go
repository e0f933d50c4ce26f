package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// ErrObjectNotFound is returned when the object does not exist in the bucket.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectAttrs is the subset of object metadata the service inspects.
type ObjectAttrs struct {
	Key         string
	Size        int64
	ContentType string
	Updated     time.Time
}

// Objects performs copy, delete and metadata operations inside the media bucket.
type Objects struct {
	client *gcs.Client
	bucket string
}

// NewObjects constructs Objects backed by the provided Cloud Storage client.
func NewObjects(client *gcs.Client, bucket string) (*Objects, error) {
	if client == nil {
		return nil, errors.New("storage objects: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &Objects{client: client, bucket: bucket}, nil
}

// Copy copies src to dst and returns once the destination object exists.
func (o *Objects) Copy(ctx context.Context, src, dst string) error {
	if o == nil || o.client == nil {
		return errors.New("storage objects: client is not initialised")
	}
	src = strings.TrimSpace(src)
	dst = strings.TrimSpace(dst)
	if src == "" || dst == "" {
		return errors.New("storage objects: source and destination must be provided")
	}
	if src == dst {
		return nil
	}

	bucket := o.client.Bucket(o.bucket)
	_, err := bucket.Object(dst).CopierFrom(bucket.Object(src)).Run(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, src)
	}
	if err != nil {
		return fmt.Errorf("storage objects: copy %s: %w", src, err)
	}
	return nil
}

// Delete removes the object.
func (o *Objects) Delete(ctx context.Context, key string) error {
	if o == nil || o.client == nil {
		return errors.New("storage objects: client is not initialised")
	}
	err := o.client.Bucket(o.bucket).Object(strings.TrimSpace(key)).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("storage objects: delete %s: %w", key, err)
	}
	return nil
}

// Head returns the object metadata or ErrObjectNotFound.
func (o *Objects) Head(ctx context.Context, key string) (ObjectAttrs, error) {
	if o == nil || o.client == nil {
		return ObjectAttrs{}, errors.New("storage objects: client is not initialised")
	}
	attrs, err := o.client.Bucket(o.bucket).Object(strings.TrimSpace(key)).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ObjectAttrs{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return ObjectAttrs{}, fmt.Errorf("storage objects: head %s: %w", key, err)
	}
	return ObjectAttrs{
		Key:         attrs.Name,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
	}, nil
}
