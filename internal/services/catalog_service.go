package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates an unknown category or blank id.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogItemNotFound indicates the id is not an active package or product.
	ErrCatalogItemNotFound = errors.New("catalog: item not found")
)

// CatalogServiceDeps wires the catalog repository. A nil repository serves the bundled defaults only.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	repo   repositories.CatalogRepository
	logger func(ctx context.Context, event string, fields map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the read-only catalog service.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{repo: deps.Catalog, logger: logger}, nil
}

// ListPackages never fails on repository errors; it degrades to the bundled list.
func (s *catalogService) ListPackages(ctx context.Context, category domain.Category) ([]Package, error) {
	if category != "" && !category.IsService() {
		return nil, fmt.Errorf("%w: unknown package category %q", ErrCatalogInvalidInput, category)
	}
	if s.repo != nil {
		packages, err := s.repo.ListActivePackages(ctx, category)
		switch {
		case err != nil:
			s.logger(ctx, "catalog.packages.fallback", map[string]any{"category": string(category), "error": err.Error()})
		case len(packages) == 0:
			s.logger(ctx, "catalog.packages.fallback", map[string]any{"category": string(category), "reason": "empty"})
		default:
			return packages, nil
		}
	}
	return staticPackagesFor(category), nil
}

func (s *catalogService) ListStoreProducts(ctx context.Context) ([]Product, error) {
	if s.repo != nil {
		products, err := s.repo.ListActiveProducts(ctx)
		switch {
		case err != nil:
			s.logger(ctx, "catalog.products.fallback", map[string]any{"error": err.Error()})
		case len(products) == 0:
			s.logger(ctx, "catalog.products.fallback", map[string]any{"reason": "empty"})
		default:
			return products, nil
		}
	}
	return append([]Product(nil), staticProducts...), nil
}

// ResolveLineItem looks the id up in the catalog and returns a single-quantity line item.
func (s *catalogService) ResolveLineItem(ctx context.Context, category domain.Category, itemID string) (LineItem, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return LineItem{}, fmt.Errorf("%w: item id is required", ErrCatalogInvalidInput)
	}
	if !category.Valid() {
		return LineItem{}, fmt.Errorf("%w: unknown category %q", ErrCatalogInvalidInput, category)
	}

	if category == domain.CategoryStore {
		products, err := s.ListStoreProducts(ctx)
		if err != nil {
			return LineItem{}, err
		}
		for _, product := range products {
			if product.ID == id && product.Active {
				return LineItem{
					ID:        product.ID,
					Category:  domain.CategoryStore,
					Name:      product.Name,
					UnitPrice: product.Price,
					Quantity:  1,
					ImageRef:  product.ImageRef,
				}, nil
			}
		}
		return LineItem{}, fmt.Errorf("%w: product %s", ErrCatalogItemNotFound, id)
	}

	packages, err := s.ListPackages(ctx, category)
	if err != nil {
		return LineItem{}, err
	}
	for _, pkg := range packages {
		if pkg.ID == id && pkg.Active {
			return LineItem{
				ID:            pkg.ID,
				Category:      pkg.Category,
				Name:          pkg.Title,
				DurationLabel: pkg.Duration,
				UnitPrice:     pkg.Price,
				Quantity:      1,
				ImageRef:      pkg.ImageRef,
			}, nil
		}
	}
	return LineItem{}, fmt.Errorf("%w: package %s", ErrCatalogItemNotFound, id)
}
