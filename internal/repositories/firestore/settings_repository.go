package firestore

import (
	"context"
	"errors"

	domain "github.com/lumen-studio/booking/internal/domain"
	pfirestore "github.com/lumen-studio/booking/internal/platform/firestore"
	"github.com/lumen-studio/booking/internal/repositories"
)

const (
	configCollection   = "config"
	bookingSettingsDoc = "booking"
)

// SettingsRepository reads studio overrides from config/booking.
type SettingsRepository struct {
	base *pfirestore.BaseRepository[settingsDocument]
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

// NewSettingsRepository constructs a Firestore-backed settings reader.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{base: pfirestore.NewBaseRepository[settingsDocument](provider, configCollection)}, nil
}

// GetStudioSettings returns the overrides; a missing document yields empty settings.
func (r *SettingsRepository) GetStudioSettings(ctx context.Context) (domain.StudioSettings, error) {
	if r == nil || r.base == nil {
		return domain.StudioSettings{}, errors.New("settings repository not initialised")
	}
	doc, err := r.base.Get(ctx, bookingSettingsDoc)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.StudioSettings{}, nil
		}
		return domain.StudioSettings{}, err
	}
	settings := domain.StudioSettings{
		PaymentsEnabled: doc.Data.PaymentsEnabled,
		CalendarEnabled: doc.Data.CalendarEnabled,
	}
	if doc.Data.DefaultTravelCost != nil {
		travel := domain.ParseAmount(doc.Data.DefaultTravelCost)
		settings.DefaultTravelCost = &travel
	}
	return settings, nil
}

type settingsDocument struct {
	PaymentsEnabled   *bool `firestore:"paymentsEnabled"`
	CalendarEnabled   *bool `firestore:"calendarEnabled"`
	DefaultTravelCost any   `firestore:"defaultTravelCost"`
}
