package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"

	"github.com/lumen-studio/booking/internal/platform/httpx"
	"github.com/lumen-studio/booking/internal/services"
)

const (
	maxWebhookBodySize        = 1 << 20
	stripeProvider            = "stripe"
	stripeCheckoutEventPrefix = "checkout.session."
)

// PaymentWebhookHandlers receives provider notifications. Signature checks
// run as group middleware before these handlers.
type PaymentWebhookHandlers struct {
	webhooks services.PaymentWebhookService
}

// NewPaymentWebhookHandlers constructs the webhook handlers.
func NewPaymentWebhookHandlers(webhooks services.PaymentWebhookService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{webhooks: webhooks}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.handlePayment)
}

type webhookAck struct {
	Status     string `json:"status"`
	ContractID string `json:"contractId,omitempty"`
}

func (h *PaymentWebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment webhook not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read body", http.StatusBadRequest))
		return
	}
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid event payload", http.StatusBadRequest))
		return
	}

	eventType := string(event.Type)
	if !strings.HasPrefix(eventType, stripeCheckoutEventPrefix) || event.Data == nil {
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Status: "ignored"})
		return
	}
	paymentID, _ := event.Data.Object["id"].(string)

	result, err := h.webhooks.HandleNotification(ctx, services.PaymentNotificationCommand{
		Provider:  stripeProvider,
		PaymentID: paymentID,
		EventType: eventType,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPaymentNotificationInvalid):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_notification", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrPaymentContractPending):
			httpx.WriteError(ctx, w, httpx.NewError("contract_pending", "booking not finalized yet", http.StatusConflict))
		case errors.Is(err, services.ErrPaymentLookupFailed):
			// Non-2xx makes the provider redeliver.
			httpx.WriteError(ctx, w, httpx.NewError("payment_lookup_failed", "payment could not be verified", http.StatusBadGateway))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to apply notification", http.StatusInternalServerError))
		}
		return
	}

	ack := webhookAck{Status: "ignored", ContractID: result.ContractID}
	if result.Applied {
		ack.Status = "applied"
	}
	httpx.WriteJSON(w, http.StatusOK, ack)
}
