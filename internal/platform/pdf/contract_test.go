package pdf

import (
	"bytes"
	"context"
	"testing"
	"time"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/services"
)

const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func sampleDocument(signature string) services.ContractDocument {
	return services.ContractDocument{
		Contract: domain.Contract{
			ID:            "ctr_01TEST",
			Client:        domain.ClientInfo{Name: "Maria Souza", Email: "maria@example.com", Phone: "(11) 98765-4321"},
			EventType:     domain.CategoryPortrait,
			EventDate:     "2025-09-20",
			EventTime:     "15:00",
			EventLocation: "Estúdio São Paulo",
			TravelFee:     5000,
			PaymentMethod: domain.PaymentMethodCash,
			Pricing:       domain.PricingBreakdown{Currency: "BRL", Subtotal: 45000, PaymentDiscount: 2300, Total: 42700, Deposit: 8000, Remaining: 34700},
			Services: []domain.ContractService{
				{ItemID: "prewedding-basic", Name: "Pré-wedding Básico", DurationLabel: "2 horas", UnitPrice: 40000, Quantity: 1, LineTotal: 40000},
			},
			Message: "Queremos fotos ao pôr do sol.",
		},
		Signature: []byte(signature),
		SignedAt:  time.Date(2025, 8, 1, 15, 0, 0, 0, time.UTC),
	}
}

func TestRenderContractProducesPDF(t *testing.T) {
	renderer := NewRenderer(Options{StudioTax: "12.345.678/0001-90"})
	for name, sig := range map[string]string{
		"data url":   "data:image/png;base64," + onePixelPNG,
		"raw base64": onePixelPNG,
		"garbage":    "not-an-image",
		"empty":      "",
	} {
		t.Run(name, func(t *testing.T) {
			out, err := renderer.RenderContract(context.Background(), sampleDocument(sig))
			if err != nil {
				t.Fatalf("RenderContract: %v", err)
			}
			if !bytes.HasPrefix(out, []byte("%PDF-")) {
				t.Fatalf("expected a PDF document, got %q", out[:min(len(out), 8)])
			}
		})
	}
}

func TestRenderContractRequiresID(t *testing.T) {
	doc := sampleDocument("")
	doc.Contract.ID = ""
	if _, err := NewRenderer(Options{}).RenderContract(context.Background(), doc); err == nil {
		t.Fatalf("expected error without contract id")
	}
}

func TestRenderContractHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRenderer(Options{}).RenderContract(ctx, sampleDocument("")); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestDecodeSignature(t *testing.T) {
	if _, kind, ok := decodeSignature([]byte("data:image/jpeg;base64," + onePixelPNG)); !ok || kind != "JPG" {
		t.Fatalf("expected jpeg kind, got %s %v", kind, ok)
	}
	if _, _, ok := decodeSignature([]byte("data:image/png,plain")); ok {
		t.Fatalf("non-base64 data url must be rejected")
	}
}
