package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/repositories"
)

const (
	maxChecklistEntries  = 50
	maxChecklistKeyLen   = 64
	defaultContractPage  = 20
	maxContractPageLimit = 100
)

var (
	// ErrContractInvalidInput indicates validation failures for back-office operations.
	ErrContractInvalidInput = errors.New("contract: invalid input")
	// ErrContractNotFound indicates the contract does not exist.
	ErrContractNotFound = errors.New("contract: not found")
	// ErrContractUnavailable indicates the store could not be reached.
	ErrContractUnavailable = errors.New("contract: repository unavailable")
)

// ContractAdminServiceDeps bundles collaborators for the back-office service.
type ContractAdminServiceDeps struct {
	Contracts repositories.ContractRepository
	Events    BookingEventPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type contractAdminService struct {
	contracts repositories.ContractRepository
	events    BookingEventPublisher
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

var _ ContractAdminService = (*contractAdminService)(nil)

// NewContractAdminService constructs the back-office contract service.
func NewContractAdminService(deps ContractAdminServiceDeps) (ContractAdminService, error) {
	if deps.Contracts == nil {
		return nil, errors.New("contract admin service: contract repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &contractAdminService{
		contracts: deps.Contracts,
		events:    deps.Events,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

func (s *contractAdminService) List(ctx context.Context, filter ContractListFilter) (domain.CursorPage[Contract], error) {
	filter.ClientEmail = strings.ToLower(strings.TrimSpace(filter.ClientEmail))
	switch size := filter.Pagination.PageSize; {
	case size <= 0:
		filter.Pagination.PageSize = defaultContractPage
	case size > maxContractPageLimit:
		filter.Pagination.PageSize = maxContractPageLimit
	}
	page, err := s.contracts.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Contract]{}, mapContractRepoError(err)
	}
	return page, nil
}

func (s *contractAdminService) Get(ctx context.Context, contractID string) (Contract, error) {
	id := strings.TrimSpace(contractID)
	if id == "" {
		return Contract{}, fmt.Errorf("%w: contract id is required", ErrContractInvalidInput)
	}
	contract, err := s.contracts.Get(ctx, id)
	if err != nil {
		return Contract{}, mapContractRepoError(err)
	}
	return contract, nil
}

// UpdateStatus toggles any subset of the contract flags independently.
func (s *contractAdminService) UpdateStatus(ctx context.Context, cmd UpdateContractStatusCommand) (Contract, error) {
	id := strings.TrimSpace(cmd.ContractID)
	if id == "" {
		return Contract{}, fmt.Errorf("%w: contract id is required", ErrContractInvalidInput)
	}
	patch := repositories.ContractStatusPatch{
		DepositPaid:      cmd.DepositPaid,
		FinalPaymentPaid: cmd.FinalPaymentPaid,
		EventCompleted:   cmd.EventCompleted,
	}
	if patch.IsEmpty() {
		return Contract{}, fmt.Errorf("%w: at least one status flag is required", ErrContractInvalidInput)
	}

	contract, err := s.contracts.UpdateStatus(ctx, id, patch, s.now())
	if err != nil {
		return Contract{}, mapContractRepoError(err)
	}
	s.logger(ctx, "contract.status.updated", map[string]any{
		"contractId":       id,
		"actorId":          cmd.ActorID,
		"depositPaid":      contract.Status.DepositPaid,
		"finalPaymentPaid": contract.Status.FinalPaymentPaid,
		"eventCompleted":   contract.Status.EventCompleted,
	})
	if patch.DepositPaid != nil || patch.FinalPaymentPaid != nil {
		publishPaymentUpdated(ctx, s.events, s.logger, contract, s.now())
	}
	return contract, nil
}

// UpdateChecklist merges free-form workflow entries into the contract checklist.
func (s *contractAdminService) UpdateChecklist(ctx context.Context, cmd UpdateContractChecklistCommand) (Contract, error) {
	id := strings.TrimSpace(cmd.ContractID)
	if id == "" {
		return Contract{}, fmt.Errorf("%w: contract id is required", ErrContractInvalidInput)
	}
	if len(cmd.Entries) == 0 {
		return Contract{}, fmt.Errorf("%w: checklist entries are required", ErrContractInvalidInput)
	}
	if len(cmd.Entries) > maxChecklistEntries {
		return Contract{}, fmt.Errorf("%w: at most %d checklist entries per update", ErrContractInvalidInput, maxChecklistEntries)
	}
	entries := make(map[string]bool, len(cmd.Entries))
	for key, done := range cmd.Entries {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" || len(trimmed) > maxChecklistKeyLen || strings.ContainsAny(trimmed, ".`*[]/~") {
			return Contract{}, fmt.Errorf("%w: invalid checklist key %q", ErrContractInvalidInput, key)
		}
		entries[trimmed] = done
	}

	contract, err := s.contracts.UpdateChecklist(ctx, id, entries, s.now())
	if err != nil {
		return Contract{}, mapContractRepoError(err)
	}
	s.logger(ctx, "contract.checklist.updated", map[string]any{"contractId": id, "actorId": cmd.ActorID, "entries": len(entries)})
	return contract, nil
}

func mapContractRepoError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrContractNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrContractUnavailable, err)
		}
	}
	return err
}

func publishPaymentUpdated(ctx context.Context, events BookingEventPublisher, logger func(context.Context, string, map[string]any), contract Contract, at time.Time) {
	if events == nil {
		return
	}
	event := BookingEvent{
		Type:       BookingEventContractPaymentUpdated,
		ContractID: contract.ID,
		SessionID:  contract.SessionID,
		Total:      contract.TotalAmount,
		Currency:   contract.Pricing.Currency,
		Status: &ContractStatusEvent{
			DepositPaid:      contract.Status.DepositPaid,
			FinalPaymentPaid: contract.Status.FinalPaymentPaid,
			EventCompleted:   contract.Status.EventCompleted,
		},
		OccurredAt: at,
	}
	if _, err := events.PublishBookingEvent(ctx, event); err != nil {
		logger(ctx, "contract.payment_updated.publish_failed", map[string]any{"contractId": contract.ID, "error": err.Error()})
	}
}
