package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	pricingdomain "github.com/smallbiznis/atelier/internal/pricing/domain"
)

type CreateRequest struct {
	OrgID     snowflake.ID
	Features  []string
	TrialDays *int
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (BillingState, error)
	ChangeFeatures(ctx context.Context, orgID snowflake.ID, features []string) (BillingState, error)
	Cancel(ctx context.Context, orgID snowflake.ID, immediate bool) (BillingState, error)
	Reactivate(ctx context.Context, orgID snowflake.ID) (BillingState, error)
	Pause(ctx context.Context, orgID snowflake.ID) (BillingState, error)
	Resume(ctx context.Context, orgID snowflake.ID) (BillingState, error)
	Get(ctx context.Context, orgID snowflake.ID) (BillingState, error)
}

var (
	ErrInvalidFeature       = pricingdomain.ErrInvalidFeature
	ErrNoBillableFeatures   = errors.New("no_billable_features")
	ErrInvalidTrialDays     = errors.New("invalid_trial_days")
	ErrSubscriptionExists   = errors.New("subscription_exists")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrNotReactivatable     = errors.New("not_reactivatable")
	ErrPaymentSetup         = errors.New("payment_setup_failed")
	ErrProcessorCall        = errors.New("payment_processor_call_failed")
)
