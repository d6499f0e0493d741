package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/lumen-studio/booking/internal/domain"
	pfirestore "github.com/lumen-studio/booking/internal/platform/firestore"
	"github.com/lumen-studio/booking/internal/repositories"
)

const contractsCollection = "contracts"

// ContractRepository persists contracts in the contracts collection.
type ContractRepository struct {
	base     *pfirestore.BaseRepository[contractDocument]
	provider *pfirestore.Provider
}

var _ repositories.ContractRepository = (*ContractRepository)(nil)

// NewContractRepository constructs a Firestore-backed contract repository.
func NewContractRepository(provider *pfirestore.Provider) (*ContractRepository, error) {
	if provider == nil {
		return nil, errors.New("contract repository requires firestore provider")
	}
	return &ContractRepository{
		base:     pfirestore.NewBaseRepository[contractDocument](provider, contractsCollection),
		provider: provider,
	}, nil
}

// Insert creates the contract document keyed by contract.ID.
func (r *ContractRepository) Insert(ctx context.Context, contract domain.Contract) error {
	if r == nil || r.base == nil {
		return errors.New("contract repository not initialised")
	}
	if strings.TrimSpace(contract.ID) == "" {
		return errors.New("contract repository: contract id is required")
	}
	return r.base.Create(ctx, contract.ID, encodeContract(contract))
}

// Get loads a contract by id.
func (r *ContractRepository) Get(ctx context.Context, contractID string) (domain.Contract, error) {
	if r == nil || r.base == nil {
		return domain.Contract{}, errors.New("contract repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(contractID))
	if err != nil {
		return domain.Contract{}, err
	}
	return decodeContract(doc), nil
}

// List returns contracts ordered by creation time, newest first.
func (r *ContractRepository) List(ctx context.Context, filter repositories.ContractListFilter) (domain.CursorPage[domain.Contract], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Contract]{}, errors.New("contract repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		ts, id, err := decodeContractListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Contract]{}, fmt.Errorf("contract repository: invalid page token: %w", err)
		}
		startAfter = []any{ts, id}
	}

	email := strings.ToLower(strings.TrimSpace(filter.ClientEmail))
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if email != "" {
			q = q.Where("client.email", "==", email)
		}
		if filter.DepositPaid != nil {
			q = q.Where("status.depositPaid", "==", *filter.DepositPaid)
		}
		if filter.EventCompleted != nil {
			q = q.Where("status.eventCompleted", "==", *filter.EventCompleted)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Contract]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-2]
		nextToken = encodeContractListToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Contract, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeContract(doc))
	}
	return domain.CursorPage[domain.Contract]{Items: items, NextPageToken: nextToken}, nil
}

// SetPDFURL records the uploaded contract PDF location.
func (r *ContractRepository) SetPDFURL(ctx context.Context, contractID, url string, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("contract repository not initialised")
	}
	return r.base.Update(ctx, strings.TrimSpace(contractID), []firestore.Update{
		{Path: "pdfUrl", Value: strings.TrimSpace(url)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
}

// UpdateStatus applies the patch inside a transaction so concurrent webhook and
// back-office updates never drop each other's flags.
func (r *ContractRepository) UpdateStatus(ctx context.Context, contractID string, patch repositories.ContractStatusPatch, updatedAt time.Time) (domain.Contract, error) {
	if r == nil || r.base == nil {
		return domain.Contract{}, errors.New("contract repository not initialised")
	}
	var updates []firestore.Update
	if patch.DepositPaid != nil {
		updates = append(updates, firestore.Update{Path: "status.depositPaid", Value: *patch.DepositPaid})
	}
	if patch.FinalPaymentPaid != nil {
		updates = append(updates, firestore.Update{Path: "status.finalPaymentPaid", Value: *patch.FinalPaymentPaid})
	}
	if patch.EventCompleted != nil {
		updates = append(updates, firestore.Update{Path: "status.eventCompleted", Value: *patch.EventCompleted})
	}
	return r.mutate(ctx, contractID, updates, updatedAt)
}

// UpdateChecklist merges workflow checklist entries.
func (r *ContractRepository) UpdateChecklist(ctx context.Context, contractID string, entries map[string]bool, updatedAt time.Time) (domain.Contract, error) {
	if r == nil || r.base == nil {
		return domain.Contract{}, errors.New("contract repository not initialised")
	}
	updates := make([]firestore.Update, 0, len(entries))
	for key, done := range entries {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{"checklist", key}, Value: done})
	}
	return r.mutate(ctx, contractID, updates, updatedAt)
}

func (r *ContractRepository) mutate(ctx context.Context, contractID string, updates []firestore.Update, updatedAt time.Time) (domain.Contract, error) {
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(contractID))
	if err != nil {
		return domain.Contract{}, err
	}

	txOpts := []pfirestore.TxOption{pfirestore.WithTxOp(contractsCollection + ".mutate")}
	if len(updates) == 0 {
		txOpts = append(txOpts, pfirestore.WithReadOnlyTx())
	}

	var result domain.Contract
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError(contractsCollection+".tx.get", err)
		}
		doc, err := pfirestore.Decode[contractDocument](snap)
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			all := append(updates, firestore.Update{Path: "updatedAt", Value: updatedAt.UTC()})
			if err := tx.Update(ref, all); err != nil {
				return pfirestore.WrapError(contractsCollection+".tx.update", err)
			}
			applyContractUpdates(&doc.Data, updates)
			doc.Data.UpdatedAt = updatedAt.UTC()
		}
		result = decodeContract(doc)
		return nil
	}, txOpts...)
	if err != nil {
		return domain.Contract{}, err
	}
	return result, nil
}

func applyContractUpdates(doc *contractDocument, updates []firestore.Update) {
	for _, update := range updates {
		value, _ := update.Value.(bool)
		switch {
		case update.Path == "status.depositPaid":
			doc.Status.DepositPaid = value
		case update.Path == "status.finalPaymentPaid":
			doc.Status.FinalPaymentPaid = value
		case update.Path == "status.eventCompleted":
			doc.Status.EventCompleted = value
		case len(update.FieldPath) == 2 && update.FieldPath[0] == "checklist":
			if doc.Checklist == nil {
				doc.Checklist = make(map[string]bool)
			}
			doc.Checklist[update.FieldPath[1]] = value
		}
	}
}

type contractDocument struct {
	SessionID           string                  `firestore:"sessionId"`
	UserID              string                  `firestore:"userId,omitempty"`
	Client              clientDocument          `firestore:"client"`
	EventType           string                  `firestore:"eventType"`
	EventDate           string                  `firestore:"eventDate"`
	EventTime           string                  `firestore:"eventTime"`
	EventLocation       string                  `firestore:"eventLocation"`
	TotalAmount         int64                   `firestore:"totalAmount"`
	TravelFee           int64                   `firestore:"travelFee"`
	PaymentMethod       string                  `firestore:"paymentMethod"`
	Pricing             pricingDocument         `firestore:"pricing"`
	Status              contractStatusDocument  `firestore:"status"`
	Services            []contractServiceDoc    `firestore:"services"`
	StoreItems          []contractStoreItemDoc  `firestore:"storeItems"`
	Message             string                  `firestore:"message"`
	PaymentPreferenceID string                  `firestore:"paymentPreferenceId,omitempty"`
	CalendarEventRef    string                  `firestore:"calendarEventRef,omitempty"`
	PDFURL              string                  `firestore:"pdfUrl,omitempty"`
	Checklist           map[string]bool         `firestore:"checklist,omitempty"`
	CreatedAt           time.Time               `firestore:"createdAt"`
	UpdatedAt           time.Time               `firestore:"updatedAt"`
}

type clientDocument struct {
	Name     string `firestore:"name"`
	Email    string `firestore:"email"`
	Phone    string `firestore:"phone"`
	Document string `firestore:"document"`
	Address  string `firestore:"address"`
}

type pricingDocument struct {
	Currency        string `firestore:"currency"`
	Subtotal        int64  `firestore:"subtotal"`
	CouponDiscount  int64  `firestore:"couponDiscount"`
	PaymentDiscount int64  `firestore:"paymentDiscount"`
	Total           int64  `firestore:"total"`
	DepositServices int64  `firestore:"depositServices"`
	DepositStore    int64  `firestore:"depositStore"`
	Deposit         int64  `firestore:"deposit"`
	Remaining       int64  `firestore:"remaining"`
	StoreOnly       bool   `firestore:"storeOnly"`
}

type contractStatusDocument struct {
	DepositPaid      bool `firestore:"depositPaid"`
	FinalPaymentPaid bool `firestore:"finalPaymentPaid"`
	EventCompleted   bool `firestore:"eventCompleted"`
}

type contractServiceDoc struct {
	ItemID        string `firestore:"itemId"`
	Category      string `firestore:"category"`
	Name          string `firestore:"name"`
	DurationLabel string `firestore:"durationLabel"`
	UnitPrice     int64  `firestore:"unitPrice"`
	Quantity      int    `firestore:"quantity"`
	LineTotal     int64  `firestore:"lineTotal"`
	Coupon        string `firestore:"coupon,omitempty"`
	SlotDate      string `firestore:"slotDate,omitempty"`
	SlotTime      string `firestore:"slotTime,omitempty"`
	SlotLocation  string `firestore:"slotLocation,omitempty"`
}

type contractStoreItemDoc struct {
	ItemID    string `firestore:"itemId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	LineTotal int64  `firestore:"lineTotal"`
}

func encodeContract(c domain.Contract) contractDocument {
	doc := contractDocument{
		SessionID:           c.SessionID,
		UserID:              c.UserID,
		Client:              encodeClient(c.Client),
		EventType:           string(c.EventType),
		EventDate:           c.EventDate,
		EventTime:           c.EventTime,
		EventLocation:       c.EventLocation,
		TotalAmount:         c.TotalAmount,
		TravelFee:           c.TravelFee,
		PaymentMethod:       string(c.PaymentMethod),
		Pricing:             pricingDocument(c.Pricing),
		Status:              contractStatusDocument(c.Status),
		Services:            make([]contractServiceDoc, 0, len(c.Services)),
		StoreItems:          encodeStoreItems(c.StoreItems),
		Message:             c.Message,
		PaymentPreferenceID: c.PaymentPreferenceID,
		CalendarEventRef:    c.CalendarEventRef,
		PDFURL:              c.PDFURL,
		Checklist:           c.Checklist,
		CreatedAt:           c.CreatedAt.UTC(),
		UpdatedAt:           c.UpdatedAt.UTC(),
	}
	for _, svc := range c.Services {
		doc.Services = append(doc.Services, contractServiceDoc{
			ItemID:        svc.ItemID,
			Category:      string(svc.Category),
			Name:          svc.Name,
			DurationLabel: svc.DurationLabel,
			UnitPrice:     svc.UnitPrice,
			Quantity:      svc.Quantity,
			LineTotal:     svc.LineTotal,
			Coupon:        svc.Coupon,
			SlotDate:      svc.Slot.Date,
			SlotTime:      svc.Slot.Time,
			SlotLocation:  svc.Slot.Location,
		})
	}
	return doc
}

func decodeContract(doc pfirestore.Document[contractDocument]) domain.Contract {
	data := doc.Data
	c := domain.Contract{
		ID:                  doc.ID,
		SessionID:           data.SessionID,
		UserID:              data.UserID,
		Client:              domain.ClientInfo(data.Client),
		EventType:           domain.Category(data.EventType),
		EventDate:           data.EventDate,
		EventTime:           data.EventTime,
		EventLocation:       data.EventLocation,
		TotalAmount:         data.TotalAmount,
		TravelFee:           data.TravelFee,
		PaymentMethod:       domain.PaymentMethod(data.PaymentMethod),
		Pricing:             domain.PricingBreakdown(data.Pricing),
		Status:              domain.ContractStatus(data.Status),
		StoreItems:          decodeStoreItems(data.StoreItems),
		Message:             data.Message,
		PaymentPreferenceID: data.PaymentPreferenceID,
		CalendarEventRef:    data.CalendarEventRef,
		PDFURL:              data.PDFURL,
		Checklist:           data.Checklist,
		CreatedAt:           data.CreatedAt,
		UpdatedAt:           data.UpdatedAt,
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = doc.CreateTime
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = doc.UpdateTime
	}
	for _, svc := range data.Services {
		c.Services = append(c.Services, domain.ContractService{
			ItemID:        svc.ItemID,
			Category:      domain.Category(svc.Category),
			Name:          svc.Name,
			DurationLabel: svc.DurationLabel,
			UnitPrice:     svc.UnitPrice,
			Quantity:      svc.Quantity,
			LineTotal:     svc.LineTotal,
			Coupon:        svc.Coupon,
			Slot:          domain.EventSlot{Date: svc.SlotDate, Time: svc.SlotTime, Location: svc.SlotLocation},
		})
	}
	return c
}

func encodeClient(c domain.ClientInfo) clientDocument {
	doc := clientDocument(c)
	doc.Email = strings.ToLower(strings.TrimSpace(doc.Email))
	return doc
}

func encodeStoreItems(items []domain.ContractStoreItem) []contractStoreItemDoc {
	out := make([]contractStoreItemDoc, 0, len(items))
	for _, item := range items {
		out = append(out, contractStoreItemDoc(item))
	}
	return out
}

func decodeStoreItems(items []contractStoreItemDoc) []domain.ContractStoreItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.ContractStoreItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.ContractStoreItem(item))
	}
	return out
}

func encodeContractListToken(createdAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeContractListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}
