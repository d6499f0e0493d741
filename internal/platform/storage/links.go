package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultDownloadExpiry = 5 * time.Minute
	maxDownloadExpiry     = 15 * time.Minute
)

var errExpiryTooLong = errors.New("storage: expiry exceeds permitted maximum")

// urlSigner signs a V4 GET URL for bucket/object.
type urlSigner func(bucket, object string, opts *gcs.SignedURLOptions) (string, error)

// DownloadLinks issues short-lived signed URLs for stored contract PDFs.
type DownloadLinks struct {
	sign urlSigner
	now  func() time.Time
}

// NewDownloadLinks signs with the client's detected credentials.
func NewDownloadLinks(client *gcs.Client) (*DownloadLinks, error) {
	if client == nil {
		return nil, errors.New("storage links: client is required")
	}
	return &DownloadLinks{
		sign: func(bucket, object string, opts *gcs.SignedURLOptions) (string, error) {
			return client.Bucket(bucket).SignedURL(object, opts)
		},
		now: time.Now,
	}, nil
}

// DownloadLink is a signed URL with its expiry.
type DownloadLink struct {
	URL       string
	ExpiresAt time.Time
}

// SignedDownload authorises the caller and signs a GET URL for ref. Owners
// and staff may download.
func (l *DownloadLinks) SignedDownload(ctx context.Context, ref, ownerID string, expiresIn time.Duration) (DownloadLink, error) {
	if l == nil || l.sign == nil {
		return DownloadLink{}, errors.New("storage links: not initialised")
	}
	if _, err := AuthorizeDownloadFromContext(ctx, ownerID); err != nil {
		return DownloadLink{}, err
	}
	if expiresIn <= 0 {
		expiresIn = defaultDownloadExpiry
	}
	if expiresIn > maxDownloadExpiry {
		return DownloadLink{}, errExpiryTooLong
	}
	bucket, object, err := ParseObjectRef(ref)
	if err != nil {
		return DownloadLink{}, err
	}
	expires := l.now().Add(expiresIn)
	url, err := l.sign(bucket, object, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: expires,
	})
	if err != nil {
		return DownloadLink{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return DownloadLink{URL: url, ExpiresAt: expires}, nil
}

