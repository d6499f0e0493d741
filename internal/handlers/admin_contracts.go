package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumen-studio/booking/internal/platform/auth"
	"github.com/lumen-studio/booking/internal/platform/httpx"
	"github.com/lumen-studio/booking/internal/platform/pagination"
	"github.com/lumen-studio/booking/internal/platform/storage"
	"github.com/lumen-studio/booking/internal/services"
)

const contractPDFLinkTTL = 5 * time.Minute

var contractListQuery = pagination.Options{
	Filters: map[string]pagination.FilterKind{
		"email":          pagination.FilterString,
		"depositPaid":    pagination.FilterBool,
		"eventCompleted": pagination.FilterBool,
	},
}

// ContractPDFLinks signs short-lived download URLs for stored contract PDFs.
type ContractPDFLinks interface {
	SignedDownload(ctx context.Context, ref, ownerID string, expiresIn time.Duration) (storage.DownloadLink, error)
}

// AdminContractHandlers exposes the back-office contract endpoints.
type AdminContractHandlers struct {
	authn     *auth.Authenticator
	contracts services.ContractAdminService
	links     ContractPDFLinks
}

// NewAdminContractHandlers constructs the handlers. links may be nil, which
// disables the PDF download endpoint.
func NewAdminContractHandlers(authn *auth.Authenticator, contracts services.ContractAdminService, links ContractPDFLinks) *AdminContractHandlers {
	return &AdminContractHandlers{authn: authn, contracts: contracts, links: links}
}

// Routes registers the /admin/contracts endpoints.
func (h *AdminContractHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/contracts", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
		}
		rt.Get("/", h.listContracts)
		rt.Get("/{contractID}", h.getContract)
		rt.Patch("/{contractID}", h.updateStatus)
		rt.Put("/{contractID}/checklist", h.updateChecklist)
		rt.Get("/{contractID}/pdf", h.pdfLink)
	})
}

func (h *AdminContractHandlers) listContracts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.contracts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("contract_service_unavailable", "contract service unavailable", http.StatusServiceUnavailable))
		return
	}
	params, err := pagination.FromRequest(r, contractListQuery)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_query", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.contracts.List(ctx, services.ContractListFilter{
		ClientEmail:    params.Filters["email"],
		DepositPaid:    params.Bool("depositPaid"),
		EventCompleted: params.Bool("eventCompleted"),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeContractError(ctx, w, err)
		return
	}
	items := make([]contractPayload, 0, len(page.Items))
	for _, contract := range page.Items {
		items = append(items, newContractPayload(contract))
	}
	httpx.WriteJSON(w, http.StatusOK, contractListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *AdminContractHandlers) getContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.contracts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("contract_service_unavailable", "contract service unavailable", http.StatusServiceUnavailable))
		return
	}
	contract, err := h.contracts.Get(ctx, chi.URLParam(r, "contractID"))
	if err != nil {
		writeContractError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newContractPayload(contract))
}

type updateContractStatusRequest struct {
	DepositPaid      *bool `json:"depositPaid"`
	FinalPaymentPaid *bool `json:"finalPaymentPaid"`
	EventCompleted   *bool `json:"eventCompleted"`
}

func (h *AdminContractHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.contracts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("contract_service_unavailable", "contract service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req updateContractStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	contract, err := h.contracts.UpdateStatus(ctx, services.UpdateContractStatusCommand{
		ContractID:       chi.URLParam(r, "contractID"),
		DepositPaid:      req.DepositPaid,
		FinalPaymentPaid: req.FinalPaymentPaid,
		EventCompleted:   req.EventCompleted,
		ActorID:          auth.UserID(ctx),
	})
	if err != nil {
		writeContractError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newContractPayload(contract))
}

type updateChecklistRequest struct {
	Entries map[string]bool `json:"entries"`
}

func (h *AdminContractHandlers) updateChecklist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.contracts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("contract_service_unavailable", "contract service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req updateChecklistRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	contract, err := h.contracts.UpdateChecklist(ctx, services.UpdateContractChecklistCommand{
		ContractID: chi.URLParam(r, "contractID"),
		Entries:    req.Entries,
		ActorID:    auth.UserID(ctx),
	})
	if err != nil {
		writeContractError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newContractPayload(contract))
}

func (h *AdminContractHandlers) pdfLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.contracts == nil || h.links == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pdf_download_unavailable", "contract downloads are not configured", http.StatusServiceUnavailable))
		return
	}
	contract, err := h.contracts.Get(ctx, chi.URLParam(r, "contractID"))
	if err != nil {
		writeContractError(ctx, w, err)
		return
	}
	if strings.TrimSpace(contract.PDFURL) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("pdf_not_found", "contract has no stored PDF", http.StatusNotFound))
		return
	}
	link, err := h.links.SignedDownload(ctx, contract.PDFURL, contract.UserID, contractPDFLinkTTL)
	if err != nil {
		if errors.Is(err, storage.ErrPermissionDenied) {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to download this contract", http.StatusForbidden))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("pdf_link_failed", "unable to sign download link", http.StatusBadGateway))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"url":       link.URL,
		"expiresAt": formatTime(link.ExpiresAt),
	})
}

type contractListResponse struct {
	Items         []contractPayload `json:"items"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

type contractPayload struct {
	ID               string                   `json:"id"`
	ClientName       string                   `json:"clientName"`
	ClientEmail      string                   `json:"clientEmail"`
	ClientPhone      string                   `json:"clientPhone,omitempty"`
	EventType        string                   `json:"eventType"`
	EventDate        string                   `json:"eventDate,omitempty"`
	EventTime        string                   `json:"eventTime,omitempty"`
	EventLocation    string                   `json:"eventLocation,omitempty"`
	TotalAmount      int64                    `json:"totalAmount"`
	TravelFee        int64                    `json:"travelFee"`
	PaymentMethod    string                   `json:"paymentMethod"`
	Pricing          pricingPayload           `json:"pricing"`
	DepositPaid      bool                     `json:"depositPaid"`
	FinalPaymentPaid bool                     `json:"finalPaymentPaid"`
	EventCompleted   bool                     `json:"eventCompleted"`
	Services         []contractServicePayload `json:"services"`
	StoreItems       []contractStorePayload   `json:"storeItems,omitempty"`
	Message          string                   `json:"message,omitempty"`
	HasPDF           bool                     `json:"hasPdf"`
	Checklist        map[string]bool          `json:"checklist,omitempty"`
	CreatedAt        string                   `json:"createdAt"`
	UpdatedAt        string                   `json:"updatedAt"`
}

type contractServicePayload struct {
	ItemID    string           `json:"itemId"`
	Name      string           `json:"name"`
	Category  string           `json:"category"`
	Quantity  int              `json:"quantity"`
	LineTotal int64            `json:"lineTotal"`
	Coupon    string           `json:"coupon,omitempty"`
	Slot      eventSlotPayload `json:"slot"`
}

type contractStorePayload struct {
	ItemID    string `json:"itemId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

func newContractPayload(c services.Contract) contractPayload {
	payload := contractPayload{
		ID:               c.ID,
		ClientName:       c.Client.Name,
		ClientEmail:      c.Client.Email,
		ClientPhone:      c.Client.Phone,
		EventType:        string(c.EventType),
		EventDate:        c.EventDate,
		EventTime:        c.EventTime,
		EventLocation:    c.EventLocation,
		TotalAmount:      c.TotalAmount,
		TravelFee:        c.TravelFee,
		PaymentMethod:    string(c.PaymentMethod),
		Pricing:          newPricingPayload(c.Pricing),
		DepositPaid:      c.Status.DepositPaid,
		FinalPaymentPaid: c.Status.FinalPaymentPaid,
		EventCompleted:   c.Status.EventCompleted,
		Services:         make([]contractServicePayload, 0, len(c.Services)),
		Message:          c.Message,
		HasPDF:           c.PDFURL != "",
		Checklist:        c.Checklist,
		CreatedAt:        formatTime(c.CreatedAt),
		UpdatedAt:        formatTime(c.UpdatedAt),
	}
	for _, svc := range c.Services {
		payload.Services = append(payload.Services, contractServicePayload{
			ItemID:    svc.ItemID,
			Name:      svc.Name,
			Category:  string(svc.Category),
			Quantity:  svc.Quantity,
			LineTotal: svc.LineTotal,
			Coupon:    svc.Coupon,
			Slot:      eventSlotPayload{Date: svc.Slot.Date, Time: svc.Slot.Time, Location: svc.Slot.Location},
		})
	}
	for _, item := range c.StoreItems {
		payload.StoreItems = append(payload.StoreItems, contractStorePayload{
			ItemID:    item.ItemID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	return payload
}

func writeContractError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrContractInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrContractNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("contract_not_found", "contract not found", http.StatusNotFound))
	case errors.Is(err, services.ErrContractUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("contract_service_unavailable", "contract repository unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("contract_error", "failed to process contract request", http.StatusInternalServerError))
	}
}
