// Package repository is a small generic gorm store for single-table records.
package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository finders return nil, nil when nothing matches.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID any, fields map[string]any) (int64, error)
	Count(ctx context.Context, query *T) (int64, error)
}

// QueryOption adjusts a query before it runs.
type QueryOption func(db *gorm.DB) *gorm.DB

func WithOrder(order string) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Order(order) }
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Limit(limit) }
}

func WithWhere(query string, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Where(query, args...) }
}
