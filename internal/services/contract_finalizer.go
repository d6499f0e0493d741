package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/lumen-studio/booking/internal/domain"
	pstorage "github.com/lumen-studio/booking/internal/platform/storage"
	"github.com/lumen-studio/booking/internal/repositories"
)

var (
	// ErrFinalizeInvalidInput indicates the finalize command is incomplete.
	ErrFinalizeInvalidInput = errors.New("contract finalizer: invalid input")
	// ErrFinalizePersistFailed indicates the contract record could not be written.
	ErrFinalizePersistFailed = errors.New("contract finalizer: persist failed")
)

const contractPDFContentType = "application/pdf"

// ContractFinalizerDeps wires persistence, rendering and storage.
type ContractFinalizerDeps struct {
	Contracts   repositories.ContractRepository
	Orders      repositories.OrderRepository
	Renderer    ContractRenderer
	Uploader    ContractUploader
	Events      BookingEventPublisher
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	IDGenerator func() string
}

type contractFinalizer struct {
	contracts repositories.ContractRepository
	orders    repositories.OrderRepository
	renderer  ContractRenderer
	uploader  ContractUploader
	events    BookingEventPublisher
	policy    *bluemonday.Policy
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
	newID     func() string
}

// NewContractFinalizer constructs the finalizer. Renderer, uploader, orders
// and events are optional; missing ones are reported as warnings.
func NewContractFinalizer(deps ContractFinalizerDeps) (ContractFinalizer, error) {
	if deps.Contracts == nil {
		return nil, errors.New("contract finalizer: contract repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &contractFinalizer{
		contracts: deps.Contracts,
		orders:    deps.Orders,
		renderer:  deps.Renderer,
		uploader:  deps.Uploader,
		events:    deps.Events,
		policy:    bluemonday.StrictPolicy(),
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		newID:     newID,
	}, nil
}

// Finalize prices the frozen form with the same engine as the preview,
// persists the contract and then, best effort, the order, the PDF and the
// lifecycle event. Only the contract write is fatal.
func (f *contractFinalizer) Finalize(ctx context.Context, cmd FinalizeContractCommand) (FinalizeContractResult, error) {
	contractID := strings.TrimSpace(cmd.ContractID)
	if contractID == "" {
		return FinalizeContractResult{}, fmt.Errorf("%w: contract id is required", ErrFinalizeInvalidInput)
	}
	if len(cmd.Form.CartItems) == 0 && len(cmd.Form.StoreItems) == 0 {
		return FinalizeContractResult{}, fmt.Errorf("%w: booking has no items", ErrFinalizeInvalidInput)
	}

	now := f.now()
	contract, resumed, err := f.persist(ctx, f.buildContract(cmd, now))
	if err != nil {
		f.logger(ctx, "contract.finalize.persist_failed", map[string]any{
			"contractId": contractID,
			"sessionId":  cmd.SessionID,
			"error":      err.Error(),
		})
		return FinalizeContractResult{}, fmt.Errorf("%w: %w", ErrFinalizePersistFailed, err)
	}
	if resumed {
		f.logger(ctx, "contract.finalize.resumed", map[string]any{"contractId": contractID, "sessionId": cmd.SessionID})
	}

	result := FinalizeContractResult{Contract: contract}
	if len(contract.StoreItems) > 0 {
		if order, err := f.ensureOrder(ctx, contract, now, resumed); err != nil {
			result.Warnings = append(result.Warnings, "O pedido da loja não pôde ser registrado; nossa equipe entrará em contato.")
			f.logger(ctx, "contract.finalize.order_failed", map[string]any{"contractId": contractID, "error": err.Error()})
		} else {
			result.Order = &order
		}
	}

	if contract.PDFURL == "" {
		if ref, err := f.attachPDF(ctx, cmd, contract); err != nil {
			result.Warnings = append(result.Warnings, "Contrato confirmado, mas o PDF não pôde ser salvo.")
			f.logger(ctx, "contract.finalize.pdf_failed", map[string]any{"contractId": contractID, "error": err.Error()})
		} else {
			result.Contract.PDFURL = ref
		}
	}

	f.publish(ctx, result)
	return result, nil
}

func (f *contractFinalizer) buildContract(cmd FinalizeContractCommand, now time.Time) Contract {
	form := cmd.Form
	breakdown := PriceSnapshot(SnapshotFromForm(form))

	contract := Contract{
		ID:                  strings.TrimSpace(cmd.ContractID),
		SessionID:           cmd.SessionID,
		UserID:              cmd.UserID,
		Client:              f.sanitizeClient(form.Client),
		TotalAmount:         breakdown.Total,
		TravelFee:           domain.ToMinor(form.TravelCost),
		PaymentMethod:       form.PaymentMethod,
		Pricing:             breakdown,
		Message:             f.sanitize(form.Message),
		PaymentPreferenceID: cmd.PaymentPreferenceID,
		CalendarEventRef:    cmd.CalendarEventRef,
		Checklist:           map[string]bool{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if item, slot, ok := PrimarySlot(form); ok {
		contract.EventType = item.Category
		contract.EventDate = strings.TrimSpace(slot.Date)
		contract.EventTime = strings.TrimSpace(slot.Time)
		contract.EventLocation = f.sanitize(slot.Location)
	} else if len(form.CartItems) == 0 {
		contract.EventType = domain.CategoryStore
	}

	for _, item := range form.CartItems {
		slot := form.Slots[item.ID]
		slot.Location = f.sanitize(slot.Location)
		contract.Services = append(contract.Services, domain.ContractService{
			ItemID:        item.ID,
			Category:      item.Category,
			Name:          item.Name,
			DurationLabel: item.DurationLabel,
			UnitPrice:     domain.ToMinor(item.UnitPrice),
			Quantity:      item.Quantity,
			LineTotal:     domain.ToMinor(EffectiveLineTotal(item, form.Coupons[item.ID])),
			Coupon:        form.Coupons[item.ID],
			Slot:          slot,
		})
	}
	for _, item := range form.StoreItems {
		contract.StoreItems = append(contract.StoreItems, domain.ContractStoreItem{
			ItemID:    item.ID,
			Name:      item.Name,
			UnitPrice: domain.ToMinor(item.UnitPrice),
			Quantity:  item.Quantity,
			LineTotal: domain.ToMinor(LineTotal(item)),
		})
	}
	return contract
}

// persist inserts the contract. A conflict on the id with a contract of the
// same session means an earlier attempt committed but its reply was lost; the
// stored contract is resumed so the remaining steps can run.
func (f *contractFinalizer) persist(ctx context.Context, contract Contract) (Contract, bool, error) {
	err := f.contracts.Insert(ctx, contract)
	if err == nil {
		return contract, false, nil
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		return Contract{}, false, err
	}
	stored, getErr := f.contracts.Get(ctx, contract.ID)
	if getErr != nil || stored.SessionID != contract.SessionID {
		return Contract{}, false, err
	}
	return stored, true, nil
}

// ensureOrder creates the store order, reusing one left by an earlier attempt
// when the contract was resumed.
func (f *contractFinalizer) ensureOrder(ctx context.Context, contract Contract, now time.Time, resumed bool) (Order, error) {
	if f.orders == nil {
		return Order{}, errors.New("order repository not configured")
	}
	if resumed {
		existing, err := f.orders.ListByContract(ctx, contract.ID)
		if err != nil {
			return Order{}, err
		}
		if len(existing) > 0 {
			return existing[0], nil
		}
	}
	var total int64
	for _, item := range contract.StoreItems {
		total += item.LineTotal
	}
	order := Order{
		ID:         "ord_" + f.newID(),
		ContractID: contract.ID,
		SessionID:  contract.SessionID,
		Client:     contract.Client,
		Items:      contract.StoreItems,
		Total:      total,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := f.orders.Insert(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (f *contractFinalizer) attachPDF(ctx context.Context, cmd FinalizeContractCommand, contract Contract) (string, error) {
	if f.renderer == nil || f.uploader == nil {
		return "", errors.New("pdf rendering not configured")
	}
	data, err := f.renderer.RenderContract(ctx, ContractDocument{
		Contract:  contract,
		Signature: cmd.Signature,
		SignedAt:  cmd.SignedAt,
	})
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}

	owner := strings.TrimSpace(contract.UserID)
	if owner == "" {
		owner = contract.SessionID
	}
	key, err := pstorage.BuildObjectPath(pstorage.PurposeContractPDF, pstorage.PathParams{
		OwnerID:    owner,
		ContractID: contract.ID,
	})
	if err != nil {
		return "", err
	}
	ref, err := f.uploader.Upload(ctx, key, data, contractPDFContentType)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if err := f.contracts.SetPDFURL(ctx, contract.ID, ref, f.now()); err != nil {
		return "", fmt.Errorf("record pdf url: %w", err)
	}
	return ref, nil
}

func (f *contractFinalizer) publish(ctx context.Context, result FinalizeContractResult) {
	if f.events == nil {
		return
	}
	event := BookingEvent{
		Type:       BookingEventContractFinalized,
		ContractID: result.Contract.ID,
		SessionID:  result.Contract.SessionID,
		Total:      result.Contract.TotalAmount,
		Currency:   result.Contract.Pricing.Currency,
		OccurredAt: f.now(),
	}
	if result.Order != nil {
		event.OrderID = result.Order.ID
	}
	if _, err := f.events.PublishBookingEvent(ctx, event); err != nil {
		f.logger(ctx, "contract.finalize.publish_failed", map[string]any{"contractId": event.ContractID, "error": err.Error()})
	}
}

func (f *contractFinalizer) sanitizeClient(client domain.ClientInfo) domain.ClientInfo {
	return domain.ClientInfo{
		Name:     f.sanitize(client.Name),
		Email:    strings.ToLower(strings.TrimSpace(client.Email)),
		Phone:    f.sanitize(client.Phone),
		Document: f.sanitize(client.Document),
		Address:  f.sanitize(client.Address),
	}
}

// sanitize strips markup and keeps the plain text.
func (f *contractFinalizer) sanitize(value string) string {
	return strings.TrimSpace(html.UnescapeString(f.policy.Sanitize(value)))
}
