package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/lumen-studio/booking/internal/domain"
)

func boolPtr(v bool) *bool { return &v }

func seededContracts(t *testing.T) *memoryContracts {
	t.Helper()
	repo := newMemoryContracts()
	err := repo.Insert(context.Background(), Contract{
		ID:          "ctr_1",
		SessionID:   "sess-1",
		Client:      domain.ClientInfo{Email: "maria@example.com"},
		TotalAmount: 42700,
		Pricing:     PricingBreakdown{Currency: domain.CurrencyBRL, Total: 42700, Deposit: 8000, Remaining: 34700},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return repo
}

func newAdminService(t *testing.T, repo *memoryContracts, events BookingEventPublisher) ContractAdminService {
	t.Helper()
	svc, err := NewContractAdminService(ContractAdminServiceDeps{
		Contracts: repo,
		Events:    events,
		Clock:     func() time.Time { return time.Date(2025, 8, 2, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewContractAdminService: %v", err)
	}
	return svc
}

func TestContractAdminService_FlagsToggleIndependently(t *testing.T) {
	repo := seededContracts(t)
	events := &captureEvents{}
	svc := newAdminService(t, repo, events)
	ctx := context.Background()

	got, err := svc.UpdateStatus(ctx, UpdateContractStatusCommand{ContractID: "ctr_1", EventCompleted: boolPtr(true)})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got.Status != (domain.ContractStatus{EventCompleted: true}) {
		t.Fatalf("unexpected status %+v", got.Status)
	}
	if len(events.events) != 0 {
		t.Fatalf("completion alone must not publish a payment event")
	}

	got, err = svc.UpdateStatus(ctx, UpdateContractStatusCommand{ContractID: "ctr_1", DepositPaid: boolPtr(true)})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got.Status != (domain.ContractStatus{DepositPaid: true, EventCompleted: true}) {
		t.Fatalf("unexpected status %+v", got.Status)
	}
	if len(events.events) != 1 || events.events[0].Status == nil || !events.events[0].Status.DepositPaid {
		t.Fatalf("expected payment event, got %+v", events.events)
	}
}

func TestContractAdminService_Validation(t *testing.T) {
	svc := newAdminService(t, seededContracts(t), nil)
	ctx := context.Background()

	if _, err := svc.UpdateStatus(ctx, UpdateContractStatusCommand{ContractID: "ctr_1"}); !errors.Is(err, ErrContractInvalidInput) {
		t.Fatalf("expected invalid input for empty patch, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, UpdateContractStatusCommand{ContractID: "missing", DepositPaid: boolPtr(true)}); !errors.Is(err, ErrContractNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Get(ctx, " "); !errors.Is(err, ErrContractInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	for _, key := range []string{"", "a.b", "pdf/sent"} {
		_, err := svc.UpdateChecklist(ctx, UpdateContractChecklistCommand{ContractID: "ctr_1", Entries: map[string]bool{key: true}})
		if !errors.Is(err, ErrContractInvalidInput) {
			t.Fatalf("key %q: expected invalid input, got %v", key, err)
		}
	}
}

func TestContractAdminService_ChecklistMerges(t *testing.T) {
	svc := newAdminService(t, seededContracts(t), nil)
	ctx := context.Background()

	if _, err := svc.UpdateChecklist(ctx, UpdateContractChecklistCommand{ContractID: "ctr_1", Entries: map[string]bool{"photosDelivered": true}}); err != nil {
		t.Fatalf("UpdateChecklist: %v", err)
	}
	got, err := svc.UpdateChecklist(ctx, UpdateContractChecklistCommand{ContractID: "ctr_1", Entries: map[string]bool{" albumPrinted ": false}})
	if err != nil {
		t.Fatalf("UpdateChecklist: %v", err)
	}
	if len(got.Checklist) != 2 || !got.Checklist["photosDelivered"] {
		t.Fatalf("expected merged checklist, got %v", got.Checklist)
	}
	if _, ok := got.Checklist["albumPrinted"]; !ok {
		t.Fatalf("expected trimmed key, got %v", got.Checklist)
	}
}

func TestContractAdminService_ListNormalisesFilter(t *testing.T) {
	repo := seededContracts(t)
	svc := newAdminService(t, repo, nil)

	page, err := svc.List(context.Background(), ContractListFilter{ClientEmail: " Maria@Example.com ", Pagination: Pagination{PageSize: 1000}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one contract, got %d", len(page.Items))
	}
	last := repo.listCalls[len(repo.listCalls)-1]
	if last.ClientEmail != "maria@example.com" || last.Pagination.PageSize != maxContractPageLimit {
		t.Fatalf("unexpected filter %+v", last)
	}
}
