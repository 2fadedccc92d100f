package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/atelier/internal/quote/domain"
	"github.com/smallbiznis/atelier/pkg/repository"
)

type quoteRepository struct {
	store repository.Repository[domain.Record]
}

func Provide(db *gorm.DB) domain.Repository {
	return &quoteRepository{store: repository.ProvideStore[domain.Record](db)}
}

func (r *quoteRepository) Save(ctx context.Context, record *domain.Record) error {
	return r.store.Create(ctx, record)
}

func (r *quoteRepository) Latest(ctx context.Context, subjectType domain.SubjectType, subjectID snowflake.ID) (*domain.Record, error) {
	return r.store.FindOne(ctx,
		&domain.Record{SubjectType: subjectType, SubjectID: subjectID},
		repository.WithOrder("created_at DESC, id DESC"),
		repository.WithLimit(1),
	)
}

func (r *quoteRepository) Approve(ctx context.Context, id snowflake.ID, at time.Time) error {
	affected, err := r.store.Update(ctx, id, map[string]any{
		"status":      domain.StatusApproved,
		"approved_at": at,
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrQuoteNotFound
	}
	return nil
}
