package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/lumen-studio/booking/internal/domain"
	pfirestore "github.com/lumen-studio/booking/internal/platform/firestore"
	"github.com/lumen-studio/booking/internal/repositories"
)

const (
	reviewsCollection  = "reviews"
	defaultReviewLimit = 20
)

// ReviewRepository reads published testimonials.
type ReviewRepository struct {
	base *pfirestore.BaseRepository[reviewDocument]
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)

// NewReviewRepository constructs a Firestore-backed review reader.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	return &ReviewRepository{base: pfirestore.NewBaseRepository[reviewDocument](provider, reviewsCollection)}, nil
}

// ListPublished returns the newest published reviews.
func (r *ReviewRepository) ListPublished(ctx context.Context, limit int) ([]domain.Review, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("review repository not initialised")
	}
	if limit <= 0 {
		limit = defaultReviewLimit
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("published", "==", true).OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Review, 0, len(docs))
	for _, doc := range docs {
		created := doc.Data.CreatedAt
		if created.IsZero() {
			created = doc.CreateTime
		}
		out = append(out, domain.Review{
			ID:        doc.ID,
			Author:    doc.Data.Author,
			Rating:    doc.Data.Rating,
			Text:      doc.Data.Text,
			EventType: doc.Data.EventType,
			CreatedAt: created,
		})
	}
	return out, nil
}

type reviewDocument struct {
	Author    string    `firestore:"author"`
	Rating    int       `firestore:"rating"`
	Text      string    `firestore:"text"`
	EventType string    `firestore:"eventType"`
	Published bool      `firestore:"published"`
	CreatedAt time.Time `firestore:"createdAt"`
}
