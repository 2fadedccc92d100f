package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type LineItemRequest struct {
	Description    string `json:"description"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type CreateInvoiceRequest struct {
	OrgID       snowflake.ID
	ProjectID   *snowflake.ID
	Description string
	LineItems   []LineItemRequest
	Tax         int64
	DueDate     *time.Time
	AutoSend    bool
	Kind        Kind
}

// QuoteInvoiceRequest bills the setup (and optionally first month) of a
// feature selection as a one-time invoice.
type QuoteInvoiceRequest struct {
	OrgID          snowflake.ID
	ProjectID      *snowflake.ID
	Features       []string
	IncludeMonthly bool
	DueDate        *time.Time
	AutoSend       bool
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	CreateFromQuote(ctx context.Context, req QuoteInvoiceRequest) (*Invoice, error)
	Send(ctx context.Context, id snowflake.ID) (*Invoice, error)
	Void(ctx context.Context, id snowflake.ID) (*Invoice, error)
	MarkUncollectible(ctx context.Context, id snowflake.ID) (*Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	ListByOrganization(ctx context.Context, orgID snowflake.ID) ([]Invoice, error)
	RenderHTML(ctx context.Context, id snowflake.ID) (string, error)
}

var (
	ErrInvalidLineItems     = errors.New("invalid_line_items")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidDueDate       = errors.New("invalid_due_date")
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrInvalidInvoiceStatus = errors.New("invalid_invoice_status")
	ErrInvalidKind          = errors.New("invalid_invoice_kind")
	ErrInvoiceFinalize      = errors.New("invoice_finalize_failed")
	ErrInvoiceSend          = errors.New("invoice_send_failed")
	ErrProcessorCall        = errors.New("payment_processor_call_failed")
	ErrVersionConflict      = errors.New("invoice_version_conflict")
)
