package repositories

import (
	"context"
	"time"

	domain "github.com/lumen-studio/booking/internal/domain"
)

// Registry exposes the repositories backing the booking services.
type Registry interface {
	Close(ctx context.Context) error

	Contracts() ContractRepository
	Orders() OrderRepository
	Catalog() CatalogRepository
	Reviews() ReviewRepository
	Settings() SettingsRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ContractRepository persists finalized booking contracts.
type ContractRepository interface {
	// Insert creates the contract. Conflicts are reported when the id is already taken.
	Insert(ctx context.Context, contract domain.Contract) error
	Get(ctx context.Context, contractID string) (domain.Contract, error)
	List(ctx context.Context, filter ContractListFilter) (domain.CursorPage[domain.Contract], error)
	SetPDFURL(ctx context.Context, contractID, url string, updatedAt time.Time) error
	// UpdateStatus applies the non-nil flags inside a transaction and returns the stored contract.
	UpdateStatus(ctx context.Context, contractID string, patch ContractStatusPatch, updatedAt time.Time) (domain.Contract, error)
	// UpdateChecklist merges workflow checklist entries and returns the stored contract.
	UpdateChecklist(ctx context.Context, contractID string, entries map[string]bool, updatedAt time.Time) (domain.Contract, error)
}

// ContractStatusPatch carries optional flag updates; nil leaves a flag untouched.
type ContractStatusPatch struct {
	DepositPaid      *bool
	FinalPaymentPaid *bool
	EventCompleted   *bool
}

// IsEmpty reports whether no flag would change.
func (p ContractStatusPatch) IsEmpty() bool {
	return p.DepositPaid == nil && p.FinalPaymentPaid == nil && p.EventCompleted == nil
}

// ContractListFilter narrows back-office contract listings.
type ContractListFilter struct {
	ClientEmail    string
	DepositPaid    *bool
	EventCompleted *bool
	Pagination     domain.Pagination
}

// OrderRepository persists merchandise orders created alongside contracts.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	ListByContract(ctx context.Context, contractID string) ([]domain.Order, error)
	UpdatePaymentFlags(ctx context.Context, orderID string, depositPaid, paid *bool, updatedAt time.Time) error
}

// CatalogRepository reads the published service packages and store products.
type CatalogRepository interface {
	ListActivePackages(ctx context.Context, category domain.Category) ([]domain.Package, error)
	ListActiveProducts(ctx context.Context) ([]domain.Product, error)
}

// ReviewRepository reads published testimonials.
type ReviewRepository interface {
	ListPublished(ctx context.Context, limit int) ([]domain.Review, error)
}

// SettingsRepository reads studio runtime overrides from the config collection.
type SettingsRepository interface {
	GetStudioSettings(ctx context.Context) (domain.StudioSettings, error)
}

// HealthRepository aggregates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
