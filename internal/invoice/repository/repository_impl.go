package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/atelier/internal/invoice/domain"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Create(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	if invoice.Version == 0 {
		invoice.Version = 1
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Create(invoice).Error; err != nil {
			return err
		}
		if len(invoice.Items) == 0 {
			return nil
		}
		for i := range invoice.Items {
			invoice.Items[i].InvoiceID = invoice.ID
		}
		return tx.Create(&invoice.Items).Error
	})
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repository) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Invoice, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, "external_invoice_id = ?", externalID)
}

func (r *repository) ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where("org_id = ?", orgID).
		Order("sequence DESC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) UpdateIfVersion(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	expected := invoice.Version
	invoice.Version = expected + 1

	result := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ? AND version = ?", invoice.ID, expected).
		Select("*").
		Omit("id", "org_id", "sequence", "invoice_number", "created_at", "Items").
		Updates(invoice)
	if result.Error != nil {
		invoice.Version = expected
		return result.Error
	}
	if result.RowsAffected == 0 {
		invoice.Version = expected
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *repository) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where(query, args...).
		Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func orderedItems(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}
