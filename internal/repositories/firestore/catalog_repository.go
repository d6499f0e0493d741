package firestore

import (
	"context"
	"errors"
	"sort"

	"cloud.google.com/go/firestore"

	domain "github.com/lumen-studio/booking/internal/domain"
	pfirestore "github.com/lumen-studio/booking/internal/platform/firestore"
	"github.com/lumen-studio/booking/internal/repositories"
)

const (
	packagesCollection = "packages"
	productsCollection = "products"
)

// CatalogRepository reads service packages and store products.
type CatalogRepository struct {
	packages *pfirestore.BaseRepository[packageDocument]
	products *pfirestore.BaseRepository[productDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		packages: pfirestore.NewBaseRepository[packageDocument](provider, packagesCollection),
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
	}, nil
}

// ListActivePackages returns active packages, optionally narrowed to a category, ordered by price.
func (r *CatalogRepository) ListActivePackages(ctx context.Context, category domain.Category) ([]domain.Package, error) {
	if r == nil || r.packages == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	docs, err := r.packages.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("active", "==", true)
		if category != "" {
			q = q.Where("category", "==", string(category))
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Package, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.Package{
			ID:          doc.ID,
			Category:    domain.Category(doc.Data.Category),
			Title:       doc.Data.Title,
			Price:       domain.ParseAmount(doc.Data.Price),
			Duration:    doc.Data.Duration,
			Description: doc.Data.Description,
			Features:    doc.Data.Features,
			ImageRef:    doc.Data.ImageRef,
			Section:     doc.Data.Section,
			Active:      doc.Data.Active,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out, nil
}

// ListActiveProducts returns active store products ordered by name.
func (r *CatalogRepository) ListActiveProducts(ctx context.Context) ([]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("active", "==", true)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.Product{
			ID:          doc.ID,
			Name:        doc.Data.Name,
			Price:       domain.ParseAmount(doc.Data.Price),
			Description: doc.Data.Description,
			ImageRef:    doc.Data.ImageRef,
			Active:      doc.Data.Active,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Prices are stored the way the studio team types them in the console, so
// they are kept as raw values and run through the amount parser.
type packageDocument struct {
	Category    string   `firestore:"category"`
	Title       string   `firestore:"title"`
	Price       any      `firestore:"price"`
	Duration    string   `firestore:"duration"`
	Description string   `firestore:"description"`
	Features    []string `firestore:"features"`
	ImageRef    string   `firestore:"imageUrl"`
	Section     string   `firestore:"section"`
	Active      bool     `firestore:"active"`
}

type productDocument struct {
	Name        string `firestore:"name"`
	Price       any    `firestore:"price"`
	Description string `firestore:"description"`
	ImageRef    string `firestore:"imageUrl"`
	Active      bool   `firestore:"active"`
}
