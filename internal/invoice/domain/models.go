// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents stored invoice lifecycle states. Overdue is never
// stored; see EffectiveStatus.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusSent          InvoiceStatus = "sent"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
	InvoiceStatusPaymentFailed InvoiceStatus = "payment_failed"
	InvoiceStatusOverdue       InvoiceStatus = "overdue"
)

// Kind tells one-off invoices apart from ones tied to a subscription.
type Kind string

const (
	KindOneOff    Kind = "one_off"
	KindSetup     Kind = "setup"
	KindRecurring Kind = "recurring"
)

// Invoice represents an issued invoice. Items are immutable once finalized.
type Invoice struct {
	ID                snowflake.ID                `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID                `gorm:"not null;index;uniqueIndex:ux_invoices_org_sequence,priority:1" json:"org_id"`
	ProjectID         *snowflake.ID               `gorm:"index" json:"project_id,omitempty"`
	Sequence          int64                       `gorm:"not null;uniqueIndex:ux_invoices_org_sequence,priority:2" json:"-"`
	InvoiceNumber     string                      `gorm:"type:text;not null" json:"invoice_number"`
	Kind              Kind                        `gorm:"type:text;not null;default:'one_off'" json:"kind"`
	Description       string                      `gorm:"type:text" json:"description"`
	Items             []InvoiceItem               `gorm:"foreignKey:InvoiceID" json:"line_items"`
	Currency          string                      `gorm:"type:text;not null" json:"currency"`
	Subtotal          int64                       `gorm:"not null;default:0" json:"subtotal"`
	Tax               int64                       `gorm:"not null;default:0" json:"tax"`
	Total             int64                       `gorm:"not null;default:0" json:"total"`
	Status            InvoiceStatus               `gorm:"type:text;not null;default:'draft'" json:"status"`
	IssueDate         time.Time                   `gorm:"not null" json:"issue_date"`
	DueDate           *time.Time                  `json:"due_date,omitempty"`
	PaidAt            *time.Time                  `json:"paid_at,omitempty"`
	ExternalInvoiceID *string                     `gorm:"type:text;uniqueIndex:ux_invoices_external" json:"external_invoice_id,omitempty"`
	HostedURL         string                      `gorm:"type:text" json:"hosted_url,omitempty"`
	BillingEmail      string                      `gorm:"type:text" json:"billing_email"`
	SentTo            datatypes.JSONSlice[string] `gorm:"type:json" json:"sent_to"`
	FinalizedAt       *time.Time                  `json:"finalized_at,omitempty"`
	SentAt            *time.Time                  `json:"sent_at,omitempty"`
	VoidedAt          *time.Time                  `json:"voided_at,omitempty"`
	// LastEventAt is the processor timestamp of the newest applied event.
	LastEventAt *time.Time `json:"-"`
	Version     int64      `gorm:"not null;default:1" json:"version"`
	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem represents a line on an invoice.
type InvoiceItem struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"-"`
	InvoiceID      snowflake.ID `gorm:"not null;index" json:"-"`
	Position       int          `gorm:"not null" json:"-"`
	Description    string       `gorm:"type:text;not null" json:"description"`
	Quantity       int64        `gorm:"not null" json:"quantity"`
	UnitPriceCents int64        `gorm:"not null" json:"unit_price_cents"`
	TotalCents     int64        `gorm:"not null" json:"total_cents"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// EffectiveStatus reports overdue for a sent invoice past its due date
// without touching the stored status.
func (i Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if i.Status == InvoiceStatusSent && i.DueDate != nil && i.DueDate.Before(now) {
		return InvoiceStatusOverdue
	}
	return i.Status
}

// IsTerminal reports whether processor events can no longer move the invoice.
func (i Invoice) IsTerminal() bool {
	return i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusVoid
}

// IsStale reports whether a processor fact at occurredAt is older than the
// newest one already applied.
func (i Invoice) IsStale(occurredAt time.Time) bool {
	return i.LastEventAt != nil && occurredAt.Before(*i.LastEventAt)
}

// Touch records occurredAt as the newest applied processor fact.
func (i *Invoice) Touch(occurredAt time.Time) {
	if i.LastEventAt == nil || occurredAt.After(*i.LastEventAt) {
		t := occurredAt.UTC()
		i.LastEventAt = &t
	}
}
