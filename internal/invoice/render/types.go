// Package render turns a stored invoice into a printable HTML document.
package render

import (
	"time"

	"github.com/smallbiznis/atelier/internal/invoice/domain"
)

type Renderer interface {
	RenderHTML(input RenderInput) (string, error)
}

type RenderInput struct {
	Invoice  InvoiceView
	Customer CustomerView
	Items    []ItemView
	Notes    string
}

type InvoiceView struct {
	Number         string
	Status         string
	Currency       string
	SubtotalAmount int64
	TaxAmount      int64
	TotalAmount    int64
	AmountDue      int64
	IssuedAt       *time.Time
	DueAt          *time.Time
	HostedURL      string
}

type CustomerView struct {
	Name  string
	Email string
}

type ItemView struct {
	Title     string
	Quantity  int64
	UnitPrice int64
	Amount    int64
}

// NewInput builds the view of inv as seen at now, so a sent invoice past its
// due date renders as overdue.
func NewInput(inv domain.Invoice, customerName string, now time.Time) RenderInput {
	issued := inv.IssueDate
	amountDue := inv.Total
	switch inv.Status {
	case domain.InvoiceStatusPaid, domain.InvoiceStatusVoid:
		amountDue = 0
	}

	items := make([]ItemView, 0, len(inv.Items))
	for _, item := range inv.Items {
		items = append(items, ItemView{
			Title:     item.Description,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPriceCents,
			Amount:    item.TotalCents,
		})
	}

	return RenderInput{
		Invoice: InvoiceView{
			Number:         inv.InvoiceNumber,
			Status:         string(inv.EffectiveStatus(now)),
			Currency:       inv.Currency,
			SubtotalAmount: inv.Subtotal,
			TaxAmount:      inv.Tax,
			TotalAmount:    inv.Total,
			AmountDue:      amountDue,
			IssuedAt:       &issued,
			DueAt:          inv.DueDate,
			HostedURL:      inv.HostedURL,
		},
		Customer: CustomerView{Name: customerName, Email: inv.BillingEmail},
		Items:    items,
		Notes:    inv.Description,
	}
}
