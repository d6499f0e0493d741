package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const refScheme = "gs://"

// objectWriter opens a writer for bucket/object with the given content type.
type objectWriter func(ctx context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser

// Uploader writes rendered artifacts to a Cloud Storage bucket.
type Uploader struct {
	bucket   string
	metadata map[string]string
	open     objectWriter
}

// UploaderOption customises the uploader.
type UploaderOption func(*Uploader)

// WithObjectMetadata attaches metadata to every uploaded object.
func WithObjectMetadata(metadata map[string]string) UploaderOption {
	return func(u *Uploader) {
		for k, v := range metadata {
			u.metadata[k] = v
		}
	}
}

// NewUploader constructs an Uploader bound to bucket.
func NewUploader(client *gcs.Client, bucket string, opts ...UploaderOption) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("storage uploader: client is required")
	}
	return newUploader(bucket, func(ctx context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		w.Metadata = metadata
		return w
	}, opts...)
}

func newUploader(bucket string, open objectWriter, opts ...UploaderOption) (*Uploader, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage uploader: bucket is required")
	}
	u := &Uploader{bucket: bucket, metadata: make(map[string]string), open: open}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u, nil
}

// Upload writes data under key and returns its gs:// reference.
func (u *Uploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if u == nil || u.open == nil {
		return "", errors.New("storage uploader: not initialised")
	}
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("storage uploader: object key is required")
	}
	if len(data) == 0 {
		return "", errors.New("storage uploader: payload is empty")
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}

	w := u.open(ctx, u.bucket, key, contentType, u.metadata)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage uploader: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage uploader: finalise %s: %w", key, err)
	}
	return ObjectRef(u.bucket, key), nil
}

// ObjectRef formats a gs:// reference.
func ObjectRef(bucket, object string) string {
	return refScheme + bucket + "/" + object
}

// ParseObjectRef splits a gs:// reference into bucket and object.
func ParseObjectRef(ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, refScheme) {
		return "", "", fmt.Errorf("storage: %q is not a gs:// reference", ref)
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(ref, refScheme), "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("storage: %q is missing bucket or object", ref)
	}
	return bucket, object, nil
}
