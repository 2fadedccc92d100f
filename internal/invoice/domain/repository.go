package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository finders return nil, nil when nothing matches.
type Repository interface {
	// Create inserts the invoice and its items.
	Create(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Invoice, error)
	ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Invoice, error)
	// UpdateIfVersion writes the invoice header (never items) only if the
	// stored version equals invoice.Version, then bumps it.
	UpdateIfVersion(ctx context.Context, db *gorm.DB, invoice *Invoice) error
}
