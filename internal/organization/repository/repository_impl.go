package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/atelier/internal/organization/domain"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Create(ctx context.Context, db *gorm.DB, org *domain.Organization) error {
	if org.Version == 0 {
		org.Version = 1
	}
	return db.WithContext(ctx).Create(org).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Organization, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repository) FindByExternalCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*domain.Organization, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, "sub_external_customer_id = ?", customerID)
}

func (r *repository) FindByExternalSubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*domain.Organization, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, "sub_external_subscription_id = ?", subscriptionID)
}

func (r *repository) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Organization, error) {
	var org domain.Organization
	err := db.WithContext(ctx).Where(query, args...).Take(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) UpdateIfVersion(ctx context.Context, db *gorm.DB, org *domain.Organization) error {
	expected := org.Version
	org.Version = expected + 1

	res := db.WithContext(ctx).
		Model(&domain.Organization{}).
		Where("id = ? AND version = ?", org.ID, expected).
		Select("*").
		Omit("id", "created_at", "invoice_sequence").
		Updates(org)
	if res.Error != nil {
		org.Version = expected
		return res.Error
	}
	if res.RowsAffected == 0 {
		org.Version = expected
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *repository) NextInvoiceSequence(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	var next int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Organization{}).
			Where("id = ?", id).
			UpdateColumn("invoice_sequence", gorm.Expr("invoice_sequence + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrOrganizationNotFound
		}
		return tx.Model(&domain.Organization{}).
			Where("id = ?", id).
			Pluck("invoice_sequence", &next).Error
	})
	return next, err
}
