package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/payments"
	"github.com/lumen-studio/booking/internal/repositories"
)

type stubPaymentLookup struct {
	details  payments.PaymentDetails
	err      error
	provider string
}

func (s *stubPaymentLookup) LookupPayment(_ context.Context, provider string, req payments.LookupRequest) (payments.PaymentDetails, error) {
	s.provider = provider
	if s.err != nil {
		return payments.PaymentDetails{}, s.err
	}
	details := s.details
	details.PaymentID = req.PaymentID
	return details, nil
}

func newWebhookService(t *testing.T, lookup *stubPaymentLookup, contracts *memoryContracts, orders repositories.OrderRepository, events BookingEventPublisher) PaymentWebhookService {
	t.Helper()
	svc, err := NewPaymentWebhookService(PaymentWebhookServiceDeps{
		Payments:  lookup,
		Contracts: contracts,
		Orders:    orders,
		Events:    events,
	})
	if err != nil {
		t.Fatalf("NewPaymentWebhookService: %v", err)
	}
	return svc
}

func TestPaymentWebhook_FullPaymentSettlesContractAndOrders(t *testing.T) {
	contracts := seededContracts(t)
	orders := &memoryOrders{items: []Order{{ID: "ord_1", ContractID: "ctr_1"}, {ID: "ord_other", ContractID: "ctr_9"}}}
	events := &captureEvents{}
	lookup := &stubPaymentLookup{details: payments.PaymentDetails{
		Provider: "stripe", Status: payments.StatusSucceeded, AmountPaid: 42700, ExternalReference: "ctr_1",
	}}
	svc := newWebhookService(t, lookup, contracts, orders, events)

	result, err := svc.HandleNotification(context.Background(), PaymentNotificationCommand{Provider: "stripe", PaymentID: "cs_1", EventType: "checkout.session.completed"})
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if !result.Applied || result.Status != (domain.ContractStatus{DepositPaid: true, FinalPaymentPaid: true}) {
		t.Fatalf("unexpected result %+v", result)
	}
	if !orders.items[0].Paid || !orders.items[0].DepositPaid || orders.items[1].Paid {
		t.Fatalf("unexpected order flags %+v", orders.items)
	}
	if len(events.events) != 1 || events.events[0].Type != BookingEventContractPaymentUpdated {
		t.Fatalf("expected payment event, got %+v", events.events)
	}
	if lookup.provider != "stripe" {
		t.Fatalf("provider hint not forwarded")
	}
}

func TestPaymentWebhook_PartialThenRemaining(t *testing.T) {
	contracts := seededContracts(t)
	lookup := &stubPaymentLookup{details: payments.PaymentDetails{Status: payments.StatusSucceeded, AmountPaid: 8000, ExternalReference: "ctr_1"}}
	svc := newWebhookService(t, lookup, contracts, nil, nil)
	ctx := context.Background()

	result, err := svc.HandleNotification(ctx, PaymentNotificationCommand{PaymentID: "p1"})
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if result.Status != (domain.ContractStatus{DepositPaid: true}) {
		t.Fatalf("expected deposit only, got %+v", result.Status)
	}

	lookup.details.AmountPaid = 34700
	result, err = svc.HandleNotification(ctx, PaymentNotificationCommand{PaymentID: "p2"})
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if !result.Status.FinalPaymentPaid {
		t.Fatalf("remaining payment must settle the contract, got %+v", result.Status)
	}

	result, _ = svc.HandleNotification(ctx, PaymentNotificationCommand{PaymentID: "p2"})
	if result.Applied {
		t.Fatalf("redelivered notification must be a no-op")
	}
}

func TestPaymentWebhook_AcknowledgesUnknownReferences(t *testing.T) {
	contracts := seededContracts(t)
	for name, ref := range map[string]string{"blank": "", "foreign": "pedido-7781"} {
		t.Run(name, func(t *testing.T) {
			lookup := &stubPaymentLookup{details: payments.PaymentDetails{Status: payments.StatusSucceeded, AmountPaid: 100, ExternalReference: ref}}
			svc := newWebhookService(t, lookup, contracts, nil, nil)
			result, err := svc.HandleNotification(context.Background(), PaymentNotificationCommand{PaymentID: "p"})
			if err != nil {
				t.Fatalf("expected acknowledgement, got %v", err)
			}
			if result.Applied {
				t.Fatalf("nothing should be applied")
			}
		})
	}
}

func TestPaymentWebhook_UnfinalizedContractIsRetried(t *testing.T) {
	contracts := seededContracts(t)
	lookup := &stubPaymentLookup{details: payments.PaymentDetails{Status: payments.StatusSucceeded, AmountPaid: 8000, ExternalReference: "ctr_pending"}}
	svc := newWebhookService(t, lookup, contracts, nil, nil)

	result, err := svc.HandleNotification(context.Background(), PaymentNotificationCommand{PaymentID: "p"})
	if !errors.Is(err, ErrPaymentContractPending) {
		t.Fatalf("expected pending contract error, got %v", err)
	}
	if result.Applied || result.ContractID != "ctr_pending" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestPaymentWebhook_PendingPaymentIgnored(t *testing.T) {
	contracts := seededContracts(t)
	lookup := &stubPaymentLookup{details: payments.PaymentDetails{Status: payments.StatusPending, AmountPaid: 42700, ExternalReference: "ctr_1"}}
	svc := newWebhookService(t, lookup, contracts, nil, nil)
	result, err := svc.HandleNotification(context.Background(), PaymentNotificationCommand{PaymentID: "p"})
	if err != nil || result.Applied {
		t.Fatalf("pending payment must not apply: %+v %v", result, err)
	}
}

func TestPaymentWebhook_Errors(t *testing.T) {
	svc := newWebhookService(t, &stubPaymentLookup{err: errors.New("stripe down")}, seededContracts(t), nil, nil)
	if _, err := svc.HandleNotification(context.Background(), PaymentNotificationCommand{}); !errors.Is(err, ErrPaymentNotificationInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
	if _, err := svc.HandleNotification(context.Background(), PaymentNotificationCommand{PaymentID: "p"}); !errors.Is(err, ErrPaymentLookupFailed) {
		t.Fatalf("expected lookup failure, got %v", err)
	}
}
