package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Create(ctx context.Context, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, id string) (*OrganizationResponse, error)
	UpdateBillingEmail(ctx context.Context, id string, email string) (*OrganizationResponse, error)
}

type CreateOrganizationRequest struct {
	Name          string
	BillingEmail  string
	InvoicePrefix string
}

type OrganizationResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	BillingEmail  string    `json:"billing_email"`
	InvoicePrefix string    `json:"invoice_prefix"`
	CreatedAt     time.Time `json:"created_at"`
}

func ToResponse(org *Organization) *OrganizationResponse {
	return &OrganizationResponse{
		ID:            org.ID.String(),
		Name:          org.Name,
		Slug:          org.Slug,
		BillingEmail:  org.BillingEmail,
		InvoicePrefix: org.InvoicePrefix,
		CreatedAt:     org.CreatedAt,
	}
}

// ParseID parses a snowflake organization id.
func ParseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return 0, ErrInvalidOrganization
	}
	return id, nil
}

var (
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidEmail         = errors.New("invalid_email")
	ErrInvalidInvoicePrefix = errors.New("invalid_invoice_prefix")
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrVersionConflict      = errors.New("organization_version_conflict")
)
