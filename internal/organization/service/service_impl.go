package service

import (
	"context"
	"net/mail"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/atelier/internal/clock"
	"github.com/smallbiznis/atelier/internal/organization/domain"
	"github.com/smallbiznis/atelier/pkg/db"
)

const defaultInvoicePrefix = "INV"

var invoicePrefixPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("organization.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	email, err := normalizeEmail(req.BillingEmail)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}

	baseSlug := slug.Make(name)
	if baseSlug == "" {
		return nil, domain.ErrInvalidName
	}

	prefix := strings.ToUpper(strings.TrimSpace(req.InvoicePrefix))
	if prefix == "" {
		prefix = invoicePrefixFromSlug(baseSlug)
	} else if !invoicePrefixPattern.MatchString(prefix) {
		return nil, domain.ErrInvalidInvoicePrefix
	}

	now := s.clock.Now()
	org := domain.Organization{
		ID:            s.genID.Generate(),
		Name:          name,
		Slug:          baseSlug,
		BillingEmail:  email,
		InvoicePrefix: prefix,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.repo.Create(ctx, s.db, &org)
	if db.IsDuplicateKeyErr(err) {
		// slug taken; the id keeps the retry unique
		org.Slug = baseSlug + "-" + strings.ToLower(org.ID.Base36())
		err = s.repo.Create(ctx, s.db, &org)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("slug", org.Slug),
	)
	return domain.ToResponse(&org), nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	org, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.ToResponse(org), nil
}

func (s *service) UpdateBillingEmail(ctx context.Context, id string, email string) (*domain.OrganizationResponse, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}

	org, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	org.BillingEmail = normalized
	org.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateIfVersion(ctx, s.db, org); err != nil {
		return nil, err
	}
	return domain.ToResponse(org), nil
}

func (s *service) load(ctx context.Context, rawID string) (*domain.Organization, error) {
	id, err := domain.ParseID(strings.TrimSpace(rawID))
	if err != nil {
		return nil, err
	}
	org, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrOrganizationNotFound
	}
	return org, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func invoicePrefixFromSlug(value string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(value) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == 6 {
			break
		}
	}
	if b.Len() < 2 {
		return defaultInvoicePrefix
	}
	return b.String()
}
