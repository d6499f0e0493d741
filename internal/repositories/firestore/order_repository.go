package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/lumen-studio/booking/internal/domain"
	pfirestore "github.com/lumen-studio/booking/internal/platform/firestore"
	"github.com/lumen-studio/booking/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists merchandise orders.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)}, nil
}

// Insert creates the order keyed by order.ID.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	return r.base.Create(ctx, order.ID, orderDocument{
		ContractID:  order.ContractID,
		SessionID:   order.SessionID,
		Client:      encodeClient(order.Client),
		Items:       encodeStoreItems(order.Items),
		Total:       order.Total,
		DepositPaid: order.DepositPaid,
		Paid:        order.Paid,
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
	})
}

// ListByContract returns the orders created for a contract.
func (r *OrderRepository) ListByContract(ctx context.Context, contractID string) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	contractID = strings.TrimSpace(contractID)
	if contractID == "" {
		return nil, errors.New("order repository: contract id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("contractId", "==", contractID)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, domain.Order{
			ID:          doc.ID,
			ContractID:  doc.Data.ContractID,
			SessionID:   doc.Data.SessionID,
			Client:      domain.ClientInfo(doc.Data.Client),
			Items:       decodeStoreItems(doc.Data.Items),
			Total:       doc.Data.Total,
			DepositPaid: doc.Data.DepositPaid,
			Paid:        doc.Data.Paid,
			CreatedAt:   doc.Data.CreatedAt,
			UpdatedAt:   doc.Data.UpdatedAt,
		})
	}
	return orders, nil
}

// UpdatePaymentFlags mirrors contract payment flags onto the order.
func (r *OrderRepository) UpdatePaymentFlags(ctx context.Context, orderID string, depositPaid, paid *bool, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	updates := []firestore.Update{{Path: "updatedAt", Value: updatedAt.UTC()}}
	if depositPaid != nil {
		updates = append(updates, firestore.Update{Path: "depositPaid", Value: *depositPaid})
	}
	if paid != nil {
		updates = append(updates, firestore.Update{Path: "paid", Value: *paid})
	}
	if len(updates) == 1 {
		return nil
	}
	return r.base.Update(ctx, strings.TrimSpace(orderID), updates)
}

type orderDocument struct {
	ContractID  string                 `firestore:"contractId"`
	SessionID   string                 `firestore:"sessionId"`
	Client      clientDocument         `firestore:"client"`
	Items       []contractStoreItemDoc `firestore:"items"`
	Total       int64                  `firestore:"total"`
	DepositPaid bool                   `firestore:"depositPaid"`
	Paid        bool                   `firestore:"paid"`
	CreatedAt   time.Time              `firestore:"createdAt"`
	UpdatedAt   time.Time              `firestore:"updatedAt"`
}
