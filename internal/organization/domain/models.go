// Package domain contains persistence models for the org service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"

	subscriptiondomain "github.com/smallbiznis/atelier/internal/subscription/domain"
)

// Organization represents a tenant and the subscription it owns.
type Organization struct {
	ID              snowflake.ID                    `gorm:"primaryKey" json:"id"`
	Name            string                          `gorm:"type:text;not null" json:"name"`
	Slug            string                          `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	BillingEmail    string                          `gorm:"type:text;column:billing_email" json:"billing_email"`
	InvoicePrefix   string                          `gorm:"type:text;not null" json:"invoice_prefix"`
	InvoiceSequence int64                           `gorm:"not null;default:0" json:"-"`
	ContactSyncedAt *time.Time                      `json:"-"`
	Subscription    subscriptiondomain.BillingState `gorm:"embedded;embeddedPrefix:sub_" json:"subscription"`
	Version         int64                           `gorm:"not null;default:1" json:"version"`
	CreatedAt       time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }
