package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumen-studio/booking/internal/payments"
	"github.com/lumen-studio/booking/internal/repositories"
)

var (
	// ErrPaymentNotificationInvalid indicates a notification without a payment id.
	ErrPaymentNotificationInvalid = errors.New("payment webhook: invalid notification")
	// ErrPaymentLookupFailed indicates the provider could not return the payment.
	ErrPaymentLookupFailed = errors.New("payment webhook: lookup failed")
	// ErrPaymentContractPending indicates the payment references a contract
	// that checkout has not persisted yet. The provider should redeliver.
	ErrPaymentContractPending = errors.New("payment webhook: contract not finalized yet")
)

// PaymentWebhookServiceDeps wires the provider lookup and persistence.
type PaymentWebhookServiceDeps struct {
	Payments  PaymentLookup
	Contracts repositories.ContractRepository
	Orders    repositories.OrderRepository
	Events    BookingEventPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type paymentWebhookService struct {
	payments  PaymentLookup
	contracts repositories.ContractRepository
	orders    repositories.OrderRepository
	events    BookingEventPublisher
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

var _ PaymentWebhookService = (*paymentWebhookService)(nil)

// NewPaymentWebhookService constructs the webhook reconciliation service.
func NewPaymentWebhookService(deps PaymentWebhookServiceDeps) (PaymentWebhookService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment webhook service: payment lookup is required")
	}
	if deps.Contracts == nil {
		return nil, errors.New("payment webhook service: contract repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentWebhookService{
		payments:  deps.Payments,
		contracts: deps.Contracts,
		orders:    deps.Orders,
		events:    deps.Events,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// HandleNotification re-reads the payment from the provider and marks the
// referenced contract. A reference issued by checkout whose contract is not
// stored yet fails with ErrPaymentContractPending so the provider retries;
// foreign references are acknowledged with Applied=false.
func (s *paymentWebhookService) HandleNotification(ctx context.Context, cmd PaymentNotificationCommand) (PaymentNotificationResult, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return PaymentNotificationResult{}, fmt.Errorf("%w: payment id is required", ErrPaymentNotificationInvalid)
	}

	details, err := s.payments.LookupPayment(ctx, cmd.Provider, payments.LookupRequest{PaymentID: paymentID})
	if err != nil {
		return PaymentNotificationResult{}, fmt.Errorf("%w: %w", ErrPaymentLookupFailed, err)
	}
	fields := map[string]any{
		"provider":  details.Provider,
		"paymentId": paymentID,
		"eventType": cmd.EventType,
		"status":    string(details.Status),
	}

	contractID := strings.TrimSpace(details.ExternalReference)
	if contractID == "" {
		s.logger(ctx, "payment.webhook.unreferenced", fields)
		return PaymentNotificationResult{}, nil
	}
	fields["contractId"] = contractID

	contract, err := s.contracts.Get(ctx, contractID)
	if err != nil {
		mapped := mapContractRepoError(err)
		if errors.Is(mapped, ErrContractNotFound) {
			if strings.HasPrefix(contractID, contractIDPrefix) {
				s.logger(ctx, "payment.webhook.contract_pending", fields)
				return PaymentNotificationResult{ContractID: contractID}, fmt.Errorf("%w: %s", ErrPaymentContractPending, contractID)
			}
			s.logger(ctx, "payment.webhook.unknown_contract", fields)
			return PaymentNotificationResult{ContractID: contractID}, nil
		}
		return PaymentNotificationResult{}, mapped
	}

	if details.Status != payments.StatusSucceeded || details.AmountPaid <= 0 {
		s.logger(ctx, "payment.webhook.ignored", fields)
		return PaymentNotificationResult{ContractID: contractID, Status: contract.Status}, nil
	}

	patch := paymentPatch(contract, details.AmountPaid)
	if patch.IsEmpty() {
		return PaymentNotificationResult{ContractID: contractID, Status: contract.Status}, nil
	}
	updated, err := s.contracts.UpdateStatus(ctx, contractID, patch, s.now())
	if err != nil {
		return PaymentNotificationResult{}, mapContractRepoError(err)
	}

	s.mirrorOrders(ctx, contractID, patch)
	fields["depositPaid"] = updated.Status.DepositPaid
	fields["finalPaymentPaid"] = updated.Status.FinalPaymentPaid
	s.logger(ctx, "payment.webhook.applied", fields)
	publishPaymentUpdated(ctx, s.events, s.logger, updated, s.now())

	return PaymentNotificationResult{ContractID: contractID, Applied: true, Status: updated.Status}, nil
}

// paymentPatch settles the whole contract when the payment covers the total,
// or the remaining balance once the deposit is in; anything less pays the deposit.
func paymentPatch(contract Contract, paid int64) repositories.ContractStatusPatch {
	yes := true
	var patch repositories.ContractStatusPatch
	remaining := contract.Pricing.Remaining
	settles := paid >= contract.TotalAmount || (contract.Status.DepositPaid && remaining > 0 && paid >= remaining)
	if settles {
		if !contract.Status.FinalPaymentPaid {
			patch.FinalPaymentPaid = &yes
		}
		if !contract.Status.DepositPaid {
			patch.DepositPaid = &yes
		}
		return patch
	}
	if !contract.Status.DepositPaid {
		patch.DepositPaid = &yes
	}
	return patch
}

func (s *paymentWebhookService) mirrorOrders(ctx context.Context, contractID string, patch repositories.ContractStatusPatch) {
	if s.orders == nil {
		return
	}
	orders, err := s.orders.ListByContract(ctx, contractID)
	if err != nil {
		s.logger(ctx, "payment.webhook.orders_failed", map[string]any{"contractId": contractID, "error": err.Error()})
		return
	}
	for _, order := range orders {
		if err := s.orders.UpdatePaymentFlags(ctx, order.ID, patch.DepositPaid, patch.FinalPaymentPaid, s.now()); err != nil {
			s.logger(ctx, "payment.webhook.order_update_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
	}
}
