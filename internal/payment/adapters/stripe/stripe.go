// Package stripe implements the processor boundary on top of stripe-go.
package stripe

import (
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/smallbiznis/atelier/internal/config"
	paymentdomain "github.com/smallbiznis/atelier/internal/payment/domain"
)

const providerName = "stripe"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg config.Config) (paymentdomain.Adapter, error) {
	secretKey := strings.TrimSpace(cfg.Stripe.SecretKey)
	webhookSecret := strings.TrimSpace(cfg.Stripe.WebhookSecret)
	if secretKey == "" || webhookSecret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return NewAdapter(client.New(secretKey, nil), webhookSecret), nil
}

// Adapter is both the outbound Processor and the webhook EventParser.
type Adapter struct {
	sc            *client.API
	webhookSecret string
	tolerance     time.Duration
}

func NewAdapter(sc *client.API, webhookSecret string) *Adapter {
	return &Adapter{
		sc:            sc,
		webhookSecret: webhookSecret,
		tolerance:     5 * time.Minute,
	}
}

func (a *Adapter) Name() string     { return providerName }
func (a *Adapter) Provider() string { return providerName }

var _ paymentdomain.Adapter = (*Adapter)(nil)

func unixPtr(value int64) *time.Time {
	if value == 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func subscriptionStatus(sub *stripego.Subscription) string {
	status := string(sub.Status)
	// collection pauses leave the processor status at active
	if sub.PauseCollection != nil && sub.Status == stripego.SubscriptionStatusActive {
		return "paused"
	}
	return status
}

func customerID(c *stripego.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
