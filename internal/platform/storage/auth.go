package storage

import (
	"context"
	"errors"

	"github.com/lumen-studio/booking/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller lacks permission to access the asset.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeDownload allows the owning user and back-office staff.
func AuthorizeDownload(identity *auth.Identity, ownerID string) error {
	if identity == nil {
		return ErrPermissionDenied
	}
	if identity.Owns(ownerID) || identity.IsStaff() {
		return nil
	}
	return ErrPermissionDenied
}

// AuthorizeDownloadFromContext reads the identity placed by the auth middleware.
func AuthorizeDownloadFromContext(ctx context.Context, ownerID string) (*auth.Identity, error) {
	identity, _ := auth.IdentityFromContext(ctx)
	if err := AuthorizeDownload(identity, ownerID); err != nil {
		return nil, err
	}
	return identity, nil
}
