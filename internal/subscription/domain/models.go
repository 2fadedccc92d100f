// Package domain holds the subscription state machine and the billing state
// an organization carries.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Status mirrors the processor's subscription lifecycle.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusUnpaid     Status = "unpaid"
	StatusPaused     Status = "paused"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusIncomplete, StatusTrialing, StatusActive, StatusPastDue,
		StatusCanceled, StatusUnpaid, StatusPaused:
		return true
	default:
		return false
	}
}

// IsEntitled reports whether the organization keeps access to its features.
func (s Status) IsEntitled() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue:
		return true
	default:
		return false
	}
}

// FromProcessorStatus maps a processor status string onto Status.
func FromProcessorStatus(raw string) (Status, bool) {
	switch raw {
	case "incomplete":
		return StatusIncomplete, true
	case "incomplete_expired", "canceled", "deleted":
		return StatusCanceled, true
	case "trialing":
		return StatusTrialing, true
	case "active":
		return StatusActive, true
	case "past_due":
		return StatusPastDue, true
	case "unpaid":
		return StatusUnpaid, true
	case "paused":
		return StatusPaused, true
	default:
		return "", false
	}
}

// BillingState is the subscription an organization owns. It is embedded in
// the organization row with the sub_ column prefix.
type BillingState struct {
	Plan                   string                      `json:"plan" gorm:"type:text"`
	Active                 bool                        `json:"active" gorm:"not null;default:false"`
	Features               datatypes.JSONSlice[string] `json:"features" gorm:"type:json"`
	ExternalCustomerID     string                      `json:"external_customer_id,omitempty" gorm:"type:text;index"`
	ExternalSubscriptionID string                      `json:"external_subscription_id,omitempty" gorm:"type:text;index"`
	SetupTotal             int64                       `json:"setup_total" gorm:"not null;default:0"`
	MonthlyTotal           int64                       `json:"monthly_total" gorm:"not null;default:0"`
	SetupPaid              bool                        `json:"setup_paid" gorm:"not null;default:false"`
	Status                 Status                      `json:"status,omitempty" gorm:"type:text"`
	CurrentPeriodStart     *time.Time                  `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time                  `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool                        `json:"cancel_at_period_end" gorm:"not null;default:false"`
	CanceledAt             *time.Time                  `json:"canceled_at,omitempty"`
	TrialStart             *time.Time                  `json:"trial_start,omitempty"`
	TrialEnd               *time.Time                  `json:"trial_end,omitempty"`
	// LastEventAt is the processor timestamp of the newest applied event.
	LastEventAt *time.Time `json:"-"`
}

// IsLive reports whether a processor subscription exists and is not canceled.
func (b BillingState) IsLive() bool {
	return b.ExternalSubscriptionID != "" && b.Status != StatusCanceled
}

// IsStale reports whether a processor fact at occurredAt is older than the
// newest one already applied.
func (b BillingState) IsStale(occurredAt time.Time) bool {
	return b.LastEventAt != nil && occurredAt.Before(*b.LastEventAt)
}

// Touch records occurredAt as the newest applied processor fact.
func (b *BillingState) Touch(occurredAt time.Time) {
	if b.LastEventAt == nil || occurredAt.After(*b.LastEventAt) {
		t := occurredAt.UTC()
		b.LastEventAt = &t
	}
}

// SetStatus updates Status and keeps Active in step.
func (b *BillingState) SetStatus(status Status) {
	b.Status = status
	b.Active = status.IsEntitled()
}
