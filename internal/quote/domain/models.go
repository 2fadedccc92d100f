// Package domain stores computed quotes so an approved price can be traced
// back from a subscription or invoice.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	pricingdomain "github.com/smallbiznis/atelier/internal/pricing/domain"
)

type SubjectType string

const (
	SubjectOrganization SubjectType = "organization"
	SubjectProject      SubjectType = "project"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
)

// Record is one stored quote. Records are replaced, never edited, except for approval.
type Record struct {
	ID           snowflake.ID                `json:"id" gorm:"primaryKey"`
	SubjectType  SubjectType                 `json:"subject_type" gorm:"type:text;not null;index:ix_quotes_subject,priority:1"`
	SubjectID    snowflake.ID                `json:"subject_id" gorm:"not null;index:ix_quotes_subject,priority:2"`
	Currency     string                      `json:"currency" gorm:"type:text;not null"`
	Capabilities datatypes.JSONSlice[string] `json:"capabilities" gorm:"type:json"`
	SetupTotal   int64                       `json:"setup_total" gorm:"not null"`
	MonthlyTotal int64                       `json:"monthly_total" gorm:"not null"`
	Breakdown    datatypes.JSON              `json:"breakdown" gorm:"type:json"`
	Status       Status                      `json:"status" gorm:"type:text;not null"`
	ApprovedAt   *time.Time                  `json:"approved_at,omitempty"`
	CreatedAt    time.Time                   `json:"created_at" gorm:"not null"`
}

func (Record) TableName() string { return "quotes" }

type breakdownLine struct {
	Capability string `json:"capability"`
	Setup      int64  `json:"setup"`
	Monthly    int64  `json:"monthly"`
}

// NewRecord snapshots quote for subject.
func NewRecord(id snowflake.ID, subjectType SubjectType, subjectID snowflake.ID, quote pricingdomain.Quote, now time.Time) (Record, error) {
	lines := make([]breakdownLine, 0, len(quote.Breakdown))
	for _, line := range quote.Lines() {
		lines = append(lines, breakdownLine{
			Capability: string(line.Capability),
			Setup:      line.Setup,
			Monthly:    line.Monthly,
		})
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:           id,
		SubjectType:  subjectType,
		SubjectID:    subjectID,
		Currency:     quote.Currency,
		Capabilities: pricingdomain.Strings(quote.Capabilities),
		SetupTotal:   quote.SetupTotal,
		MonthlyTotal: quote.MonthlyTotal,
		Breakdown:    datatypes.JSON(raw),
		Status:       StatusDraft,
		CreatedAt:    now,
	}, nil
}

type Repository interface {
	Save(ctx context.Context, record *Record) error
	Latest(ctx context.Context, subjectType SubjectType, subjectID snowflake.ID) (*Record, error)
	Approve(ctx context.Context, id snowflake.ID, at time.Time) error
}

type QuoteRequest struct {
	Features    []string
	SubjectType SubjectType
	SubjectID   snowflake.ID
}

type QuoteLine struct {
	Capability string `json:"capability"`
	Setup      int64  `json:"setup"`
	Monthly    int64  `json:"monthly"`
}

type QuoteResponse struct {
	ID           string      `json:"id,omitempty"`
	Currency     string      `json:"currency"`
	SetupTotal   int64       `json:"setup_total"`
	MonthlyTotal int64       `json:"monthly_total"`
	Lines        []QuoteLine `json:"lines"`
}

type Service interface {
	// Quote prices a selection. A subject, when given, gets the quote stored as a draft.
	Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error)
	Latest(ctx context.Context, subjectType SubjectType, subjectID snowflake.ID) (*Record, error)
}

var (
	ErrInvalidSubject = errors.New("invalid_quote_subject")
	ErrQuoteNotFound  = errors.New("quote_not_found")
)
