// Package pdf renders signed booking contracts.
package pdf

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/services"
)

// Options configures the studio details printed on every contract.
type Options struct {
	StudioName string
	StudioTax  string
	Location   *time.Location
	Clauses    []string
}

var defaultClauses = []string{
	"O sinal pago garante a reserva da data e não é reembolsável em caso de desistência com menos de 15 dias de antecedência.",
	"O saldo restante deve ser quitado até a data do evento.",
	"As fotos editadas serão entregues em até 30 dias após o evento, em galeria online.",
	"Alterações de data estão sujeitas à disponibilidade da agenda do estúdio.",
}

// Renderer implements services.ContractRenderer with fpdf.
type Renderer struct {
	opts Options
}

var _ services.ContractRenderer = (*Renderer)(nil)

// NewRenderer constructs a renderer with studio defaults.
func NewRenderer(opts Options) *Renderer {
	if strings.TrimSpace(opts.StudioName) == "" {
		opts.StudioName = "Lumen Estúdio Fotográfico"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if len(opts.Clauses) == 0 {
		opts.Clauses = defaultClauses
	}
	return &Renderer{opts: opts}
}

// RenderContract lays out the contract terms, the frozen lines, the price
// summary and the captured signature.
func (r *Renderer) RenderContract(ctx context.Context, doc services.ContractDocument) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := doc.Contract
	if strings.TrimSpace(c.ID) == "" {
		return nil, errors.New("pdf: contract id is required")
	}

	p := fpdf.New("P", "mm", "A4", "")
	p.SetTitle("Contrato "+c.ID, true)
	p.SetAuthor(r.opts.StudioName, true)
	p.SetMargins(18, 18, 18)
	p.SetAutoPageBreak(true, 18)
	tr := p.UnicodeTranslatorFromDescriptor("")
	p.AddPage()

	p.SetFont("Helvetica", "B", 16)
	p.CellFormat(0, 9, tr(r.opts.StudioName), "", 1, "C", false, 0, "")
	p.SetFont("Helvetica", "", 9)
	if tax := strings.TrimSpace(r.opts.StudioTax); tax != "" {
		p.CellFormat(0, 5, tr("CNPJ "+tax), "", 1, "C", false, 0, "")
	}
	p.CellFormat(0, 5, tr(fmt.Sprintf("Contrato de prestação de serviços fotográficos nº %s", c.ID)), "", 1, "C", false, 0, "")
	p.Ln(4)

	section(p, tr, "Contratante")
	row(p, tr, "Nome", c.Client.Name)
	row(p, tr, "E-mail", c.Client.Email)
	row(p, tr, "Telefone", c.Client.Phone)
	if c.Client.Document != "" {
		row(p, tr, "CPF/CNPJ", c.Client.Document)
	}
	if c.Client.Address != "" {
		row(p, tr, "Endereço", c.Client.Address)
	}

	if len(c.Services) > 0 {
		section(p, tr, "Evento")
		row(p, tr, "Tipo", string(c.EventType))
		row(p, tr, "Data", strings.TrimSpace(c.EventDate+" "+c.EventTime))
		row(p, tr, "Local", c.EventLocation)
	}

	section(p, tr, "Itens contratados")
	lineHeader(p, tr)
	for _, svc := range c.Services {
		name := svc.Name
		if svc.DurationLabel != "" {
			name += " (" + svc.DurationLabel + ")"
		}
		if svc.Coupon != "" && svc.LineTotal == 0 {
			name += " - cupom " + svc.Coupon
		}
		line(p, tr, name, svc.Quantity, svc.UnitPrice, svc.LineTotal)
	}
	for _, item := range c.StoreItems {
		line(p, tr, item.Name, item.Quantity, item.UnitPrice, item.LineTotal)
	}
	if c.TravelFee > 0 {
		line(p, tr, "Deslocamento", 1, c.TravelFee, c.TravelFee)
	}

	section(p, tr, "Valores")
	pricing := c.Pricing
	row(p, tr, "Subtotal", domain.FormatBRLMinor(pricing.Subtotal))
	if pricing.CouponDiscount > 0 {
		row(p, tr, "Desconto de cupom", domain.FormatBRLMinor(pricing.CouponDiscount))
	}
	if pricing.PaymentDiscount > 0 {
		row(p, tr, "Desconto à vista", domain.FormatBRLMinor(pricing.PaymentDiscount))
	}
	row(p, tr, "Total", domain.FormatBRLMinor(pricing.Total))
	row(p, tr, "Sinal", domain.FormatBRLMinor(pricing.Deposit))
	row(p, tr, "Restante", domain.FormatBRLMinor(pricing.Remaining))
	row(p, tr, "Pagamento", paymentLabel(c.PaymentMethod))

	section(p, tr, "Cláusulas")
	p.SetFont("Helvetica", "", 9)
	for i, clause := range r.opts.Clauses {
		p.MultiCell(0, 5, tr(fmt.Sprintf("%d. %s", i+1, clause)), "", "J", false)
	}
	if msg := strings.TrimSpace(c.Message); msg != "" {
		section(p, tr, "Observações")
		p.SetFont("Helvetica", "", 9)
		p.MultiCell(0, 5, tr(msg), "", "L", false)
	}

	r.signature(p, tr, doc)

	if err := p.Error(); err != nil {
		return nil, fmt.Errorf("pdf: render contract %s: %w", c.ID, err)
	}
	var buf bytes.Buffer
	if err := p.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf: write contract %s: %w", c.ID, err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) signature(p *fpdf.Fpdf, tr func(string) string, doc services.ContractDocument) {
	section(p, tr, "Assinatura")
	if img, kind, ok := decodeSignature(doc.Signature); ok {
		opts := fpdf.ImageOptions{ImageType: kind, ReadDpi: true}
		p.RegisterImageOptionsReader("signature", opts, bytes.NewReader(img))
		if p.Err() {
			// unreadable image; the text line below still records the signature
			p.ClearError()
		} else {
			p.ImageOptions("signature", p.GetX(), p.GetY(), 60, 0, true, opts, 0, "")
		}
	}
	p.SetFont("Helvetica", "", 9)
	p.CellFormat(0, 5, tr(doc.Contract.Client.Name), "T", 1, "L", false, 0, "")
	signedAt := doc.SignedAt
	if signedAt.IsZero() {
		signedAt = doc.Contract.CreatedAt
	}
	p.CellFormat(0, 5, tr("Assinado eletronicamente em "+signedAt.In(r.opts.Location).Format("02/01/2006 15:04")), "", 1, "L", false, 0, "")
}

// decodeSignature accepts a data URL or raw base64 PNG/JPEG payload.
func decodeSignature(raw []byte) ([]byte, string, bool) {
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return nil, "", false
	}
	kind := "PNG"
	if strings.HasPrefix(value, "data:") {
		header, payload, found := strings.Cut(value, ",")
		if !found || !strings.Contains(header, ";base64") {
			return nil, "", false
		}
		if strings.Contains(header, "jpeg") || strings.Contains(header, "jpg") {
			kind = "JPG"
		}
		value = payload
	}
	img, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(img) == 0 {
		return nil, "", false
	}
	return img, kind, true
}

func section(p *fpdf.Fpdf, tr func(string) string, title string) {
	p.Ln(3)
	p.SetFont("Helvetica", "B", 11)
	p.CellFormat(0, 7, tr(title), "B", 1, "L", false, 0, "")
	p.Ln(1)
}

func row(p *fpdf.Fpdf, tr func(string) string, label, value string) {
	p.SetFont("Helvetica", "B", 9)
	p.CellFormat(40, 5, tr(label), "", 0, "L", false, 0, "")
	p.SetFont("Helvetica", "", 9)
	p.MultiCell(0, 5, tr(value), "", "L", false)
}

func lineHeader(p *fpdf.Fpdf, tr func(string) string) {
	p.SetFont("Helvetica", "B", 9)
	p.SetFillColor(235, 235, 235)
	p.CellFormat(94, 6, tr("Descrição"), "1", 0, "L", true, 0, "")
	p.CellFormat(14, 6, tr("Qtd"), "1", 0, "C", true, 0, "")
	p.CellFormat(33, 6, tr("Unitário"), "1", 0, "R", true, 0, "")
	p.CellFormat(33, 6, tr("Total"), "1", 1, "R", true, 0, "")
}

func line(p *fpdf.Fpdf, tr func(string) string, name string, qty int, unit, total int64) {
	p.SetFont("Helvetica", "", 9)
	p.CellFormat(94, 6, tr(name), "1", 0, "L", false, 0, "")
	p.CellFormat(14, 6, fmt.Sprintf("%d", qty), "1", 0, "C", false, 0, "")
	p.CellFormat(33, 6, tr(domain.FormatBRLMinor(unit)), "1", 0, "R", false, 0, "")
	p.CellFormat(33, 6, tr(domain.FormatBRLMinor(total)), "1", 1, "R", false, 0, "")
}

func paymentLabel(method domain.PaymentMethod) string {
	switch method {
	case domain.PaymentMethodCash:
		return "Dinheiro (5% de desconto)"
	case domain.PaymentMethodCredit:
		return "Cartão de crédito"
	case domain.PaymentMethodPix:
		return "Pix"
	default:
		return string(method)
	}
}
