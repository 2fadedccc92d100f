package adapters

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/smallbiznis/atelier/internal/config"
	"github.com/smallbiznis/atelier/internal/payment/domain"
)

type Factory interface {
	Provider() string
	NewAdapter(cfg config.Config) (domain.Adapter, error)
}

// Registry holds the configured provider adapters. The first configured
// provider is the default outbound processor.
type Registry struct {
	adapters        map[string]domain.Adapter
	defaultProvider string
}

func NewRegistry(cfg config.Config, log *zap.Logger, factories ...Factory) (*Registry, error) {
	registry := &Registry{adapters: map[string]domain.Adapter{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		adapter, err := factory.NewAdapter(cfg)
		if errors.Is(err, domain.ErrInvalidConfig) {
			log.Warn("payment provider not configured", zap.String("provider", provider))
			continue
		}
		if err != nil {
			return nil, err
		}
		registry.Register(provider, adapter)
	}
	return registry, nil
}

// Register adds or replaces an adapter.
func (r *Registry) Register(provider string, adapter domain.Adapter) {
	provider = normalize(provider)
	if provider == "" || adapter == nil {
		return
	}
	if r.adapters == nil {
		r.adapters = map[string]domain.Adapter{}
	}
	r.adapters[provider] = adapter
	if r.defaultProvider == "" {
		r.defaultProvider = provider
	}
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.adapters[normalize(provider)]
	return ok
}

func (r *Registry) Parser(provider string) (domain.EventParser, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	adapter, ok := r.adapters[normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}

// Processor returns the default processor. Without a configured provider the
// returned processor fails every call with ErrProviderNotFound.
func (r *Registry) Processor() domain.Processor {
	if r == nil || r.defaultProvider == "" {
		return unavailable{}
	}
	return r.adapters[r.defaultProvider]
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

type unavailable struct{}

func (unavailable) Name() string { return "unavailable" }

func (unavailable) CreateOrUpdateCustomer(context.Context, domain.Customer) (string, error) {
	return "", domain.ErrProviderNotFound
}

func (unavailable) CreateSubscription(context.Context, domain.SubscriptionRequest) (domain.ExternalSubscription, error) {
	return domain.ExternalSubscription{}, domain.ErrProviderNotFound
}

func (unavailable) UpdateSubscription(context.Context, domain.SubscriptionUpdate) (domain.ExternalSubscription, error) {
	return domain.ExternalSubscription{}, domain.ErrProviderNotFound
}

func (unavailable) CancelSubscription(context.Context, string, bool) (domain.ExternalSubscription, error) {
	return domain.ExternalSubscription{}, domain.ErrProviderNotFound
}

func (unavailable) ReactivateSubscription(context.Context, string) (domain.ExternalSubscription, error) {
	return domain.ExternalSubscription{}, domain.ErrProviderNotFound
}

func (unavailable) PauseSubscription(context.Context, string) (domain.ExternalSubscription, error) {
	return domain.ExternalSubscription{}, domain.ErrProviderNotFound
}

func (unavailable) ResumeSubscription(context.Context, string) (domain.ExternalSubscription, error) {
	return domain.ExternalSubscription{}, domain.ErrProviderNotFound
}

func (unavailable) CreateInvoice(context.Context, domain.InvoiceRequest) (domain.ExternalInvoice, error) {
	return domain.ExternalInvoice{}, domain.ErrProviderNotFound
}

func (unavailable) FinalizeInvoice(context.Context, string) (domain.ExternalInvoice, error) {
	return domain.ExternalInvoice{}, domain.ErrProviderNotFound
}

func (unavailable) SendInvoice(context.Context, string) (domain.ExternalInvoice, error) {
	return domain.ExternalInvoice{}, domain.ErrProviderNotFound
}

func (unavailable) VoidInvoice(context.Context, string) (domain.ExternalInvoice, error) {
	return domain.ExternalInvoice{}, domain.ErrProviderNotFound
}

func (unavailable) MarkInvoiceUncollectible(context.Context, string) (domain.ExternalInvoice, error) {
	return domain.ExternalInvoice{}, domain.ErrProviderNotFound
}
