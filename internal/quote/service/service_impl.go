package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/atelier/internal/clock"
	"github.com/smallbiznis/atelier/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/atelier/internal/pricing/domain"
	"github.com/smallbiznis/atelier/internal/quote/domain"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Engine  pricingdomain.Engine
	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type service struct {
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	engine  pricingdomain.Engine
	repo    domain.Repository
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	m := p.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &service{
		log:     p.Log.Named("quote.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		engine:  p.Engine,
		repo:    p.Repo,
		metrics: m,
	}
}

func (s *service) Quote(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	switch req.SubjectType {
	case "":
	case domain.SubjectOrganization, domain.SubjectProject:
		if req.SubjectID == 0 {
			return domain.QuoteResponse{}, domain.ErrInvalidSubject
		}
	default:
		return domain.QuoteResponse{}, domain.ErrInvalidSubject
	}

	quote, err := s.engine.ComputeQuote(pricingdomain.ParseCapabilities(req.Features))
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	s.metrics.RecordQuote(ctx, hasSynergy(quote))

	resp := toResponse(quote)
	if req.SubjectType == "" || quote.IsZero() {
		return resp, nil
	}

	record, err := domain.NewRecord(s.genID.Generate(), req.SubjectType, req.SubjectID, quote, s.clock.Now())
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	if err := s.repo.Save(ctx, &record); err != nil {
		return domain.QuoteResponse{}, err
	}
	resp.ID = record.ID.String()

	s.log.Debug("quote stored",
		zap.String("quote_id", resp.ID),
		zap.String("subject_type", string(req.SubjectType)),
		zap.String("subject_id", req.SubjectID.String()),
	)
	return resp, nil
}

func (s *service) Latest(ctx context.Context, subjectType domain.SubjectType, subjectID snowflake.ID) (*domain.Record, error) {
	record, err := s.repo.Latest(ctx, subjectType, subjectID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrQuoteNotFound
	}
	return record, nil
}

// hasSynergy reports whether any line was adjusted above its base price.
func hasSynergy(quote pricingdomain.Quote) bool {
	return len(quote.Synergies) > 0
}

func toResponse(quote pricingdomain.Quote) domain.QuoteResponse {
	lines := make([]domain.QuoteLine, 0, len(quote.Breakdown))
	for _, line := range quote.Lines() {
		lines = append(lines, domain.QuoteLine{
			Capability: string(line.Capability),
			Setup:      line.Setup,
			Monthly:    line.Monthly,
		})
	}
	return domain.QuoteResponse{
		Currency:     quote.Currency,
		SetupTotal:   quote.SetupTotal,
		MonthlyTotal: quote.MonthlyTotal,
		Lines:        lines,
	}
}
