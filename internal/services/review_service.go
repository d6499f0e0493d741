package services

import (
	"context"

	"github.com/lumen-studio/booking/internal/repositories"
)

const (
	defaultReviewLimit = 12
	maxReviewLimit     = 50
)

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews repositories.ReviewRepository
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type reviewService struct {
	reviews repositories.ReviewRepository
	logger  func(ctx context.Context, event string, fields map[string]any)
}

var _ ReviewService = (*reviewService)(nil)

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &reviewService{reviews: deps.Reviews, logger: logger}, nil
}

func (s *reviewService) ListPublished(ctx context.Context, limit int) ([]Review, error) {
	switch {
	case limit <= 0:
		limit = defaultReviewLimit
	case limit > maxReviewLimit:
		limit = maxReviewLimit
	}
	if s.reviews != nil {
		reviews, err := s.reviews.ListPublished(ctx, limit)
		switch {
		case err != nil:
			s.logger(ctx, "reviews.fallback", map[string]any{"error": err.Error()})
		case len(reviews) == 0:
			s.logger(ctx, "reviews.fallback", map[string]any{"reason": "empty"})
		default:
			return reviews, nil
		}
	}
	fallback := append([]Review(nil), staticReviews...)
	if len(fallback) > limit {
		fallback = fallback[:limit]
	}
	return fallback, nil
}
