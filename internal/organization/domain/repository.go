package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository finders return nil, nil when nothing matches.
type Repository interface {
	Create(ctx context.Context, db *gorm.DB, org *Organization) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Organization, error)
	FindByExternalCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Organization, error)
	FindByExternalSubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*Organization, error)
	// UpdateIfVersion writes org only if the stored version still equals
	// org.Version, then bumps org.Version. ErrVersionConflict otherwise.
	UpdateIfVersion(ctx context.Context, db *gorm.DB, org *Organization) error
	// NextInvoiceSequence atomically reserves the next invoice number.
	NextInvoiceSequence(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
}
