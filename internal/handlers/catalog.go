package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/platform/httpx"
	"github.com/lumen-studio/booking/internal/services"
)

const (
	defaultReviewLimit = 12
	maxReviewLimit     = 50
	catalogCacheHeader = "public, max-age=300"
)

// CatalogHandlers serves the public package, product and testimonial reads.
type CatalogHandlers struct {
	catalog services.CatalogService
	reviews services.ReviewService
}

// NewCatalogHandlers constructs the catalog read handlers.
func NewCatalogHandlers(catalog services.CatalogService, reviews services.ReviewService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog, reviews: reviews}
}

// Routes registers the /catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/packages", h.listPackages)
	r.Get("/store-products", h.listStoreProducts)
	r.Get("/reviews", h.listReviews)
}

type packagePayload struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Price       string   `json:"price"`
	PriceLabel  string   `json:"priceLabel"`
	Duration    string   `json:"duration,omitempty"`
	Description string   `json:"description,omitempty"`
	Features    []string `json:"features,omitempty"`
	ImageRef    string   `json:"imageRef,omitempty"`
	Section     string   `json:"section,omitempty"`
}

type productPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	PriceLabel  string `json:"priceLabel"`
	Description string `json:"description,omitempty"`
	ImageRef    string `json:"imageRef,omitempty"`
}

type reviewPayload struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Rating    int    `json:"rating"`
	Text      string `json:"text"`
	EventType string `json:"eventType,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func (h *CatalogHandlers) listPackages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	category := domain.Category(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("category"))))
	packages, err := h.catalog.ListPackages(ctx, category)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]packagePayload, 0, len(packages))
	for _, pkg := range packages {
		items = append(items, packagePayload{
			ID:          pkg.ID,
			Category:    string(pkg.Category),
			Title:       pkg.Title,
			Price:       pkg.Price.StringFixed(2),
			PriceLabel:  domain.FormatBRL(pkg.Price),
			Duration:    pkg.Duration,
			Description: pkg.Description,
			Features:    pkg.Features,
			ImageRef:    pkg.ImageRef,
			Section:     pkg.Section,
		})
	}
	w.Header().Set("Cache-Control", catalogCacheHeader)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CatalogHandlers) listStoreProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	products, err := h.catalog.ListStoreProducts(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]productPayload, 0, len(products))
	for _, product := range products {
		items = append(items, productPayload{
			ID:          product.ID,
			Name:        product.Name,
			Price:       product.Price.StringFixed(2),
			PriceLabel:  domain.FormatBRL(product.Price),
			Description: product.Description,
			ImageRef:    product.ImageRef,
		})
	}
	w.Header().Set("Cache-Control", catalogCacheHeader)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CatalogHandlers) listReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}
	limit := defaultReviewLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = min(parsed, maxReviewLimit)
	}
	reviews, err := h.reviews.ListPublished(ctx, limit)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]reviewPayload, 0, len(reviews))
	for _, review := range reviews {
		items = append(items, reviewPayload{
			ID:        review.ID,
			Author:    review.Author,
			Rating:    review.Rating,
			Text:      review.Text,
			EventType: review.EventType,
			CreatedAt: formatTime(review.CreatedAt),
		})
	}
	w.Header().Set("Cache-Control", catalogCacheHeader)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", err.Error(), http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load catalog", http.StatusInternalServerError))
	}
}
