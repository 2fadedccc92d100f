package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Outcome of applying an event, stored on the dedup record.
const (
	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
	OutcomeStale   = "stale"
)

// EventRecord is the dedup set entry for one processor event.
type EventRecord struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	Provider        string       `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID string       `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType       string       `json:"event_type" gorm:"type:text;not null"`
	OccurredAt      time.Time    `json:"occurred_at" gorm:"not null"`
	ReceivedAt      time.Time    `json:"received_at" gorm:"not null"`
	Outcome         string       `json:"outcome" gorm:"type:text"`
	ProcessedAt     *time.Time   `json:"processed_at"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
}

func (EventRecord) TableName() string { return "payment_events" }
