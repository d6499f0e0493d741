package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	pfirestore "github.com/lumen-studio/booking/internal/platform/firestore"
	"github.com/lumen-studio/booking/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind repositories.Registry.
type Registry struct {
	provider  *pfirestore.Provider
	contracts *ContractRepository
	orders    *OrderRepository
	catalog   *CatalogRepository
	reviews   *ReviewRepository
	settings  *SettingsRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository over a shared provider. A Firestore probe
// against the contracts collection is always registered ahead of extra checks.
func NewRegistry(provider *pfirestore.Provider, checks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	contracts, err := NewContractRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	reviews, err := NewReviewRepository(provider)
	if err != nil {
		return nil, err
	}
	settings, err := NewSettingsRepository(provider)
	if err != nil {
		return nil, err
	}

	probes := make([]repositories.DependencyCheck, 0, len(checks)+1)
	probes = append(probes, repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 2 * time.Second,
		Check: func(ctx context.Context) error {
			return provider.Ping(ctx, contractsCollection)
		},
	})
	probes = append(probes, checks...)
	health, err := repositories.NewDependencyHealthRepository(probes)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: health: %w", err)
	}

	return &Registry{
		provider:  provider,
		contracts: contracts,
		orders:    orders,
		catalog:   catalog,
		reviews:   reviews,
		settings:  settings,
		health:    health,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Contracts() repositories.ContractRepository { return r.contracts }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Reviews() repositories.ReviewRepository { return r.reviews }

func (r *Registry) Settings() repositories.SettingsRepository { return r.settings }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
