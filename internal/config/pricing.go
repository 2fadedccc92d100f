package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	pricingdomain "github.com/smallbiznis/atelier/internal/pricing/domain"
)

// PricingConfig mirrors pricing.yml.
type PricingConfig struct {
	Currency  string          `mapstructure:"currency"`
	Features  []FeaturePrice  `mapstructure:"features"`
	Synergies []SynergyConfig `mapstructure:"synergies"`
}

type FeaturePrice struct {
	Key          string `mapstructure:"key"`
	SetupCents   int64  `mapstructure:"setup_cents"`
	MonthlyCents int64  `mapstructure:"monthly_cents"`
}

type SynergyConfig struct {
	Name             string   `mapstructure:"name"`
	Requires         []string `mapstructure:"requires"`
	SetupBasisPoints int64    `mapstructure:"setup_basis_points"`
}

// PricingConfigHolder serves the latest valid catalog, reloading pricing.yml on change.
type PricingConfigHolder struct {
	current atomic.Value // holds pricingdomain.Catalog
}

// NewStaticPricingConfigHolder pins a catalog without touching the filesystem.
func NewStaticPricingConfigHolder(catalog pricingdomain.Catalog) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(catalog)
	return holder
}

func NewPricingConfigHolder(cfg Config) (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	if path := strings.TrimSpace(cfg.Billing.PricingConfigPath); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/etc/atelier")
	v.AddConfigPath(".")

	log := zap.L().Named("config.pricing")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// no pricing file: built-in catalog, no watcher
		catalog := pricingdomain.DefaultCatalog()
		if currency := strings.TrimSpace(cfg.Billing.Currency); currency != "" && !strings.EqualFold(currency, catalog.Currency()) {
			rebuilt, err := withCurrency(catalog, currency)
			if err != nil {
				return nil, err
			}
			catalog = rebuilt
		}
		return NewStaticPricingConfigHolder(catalog), nil
	}

	catalog, err := readCatalog(v, cfg.Billing.Currency)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPricingConfigHolder(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readCatalog(v, cfg.Billing.Currency)
		if err != nil {
			log.Warn("invalid pricing config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pricing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// Catalog returns the current catalog snapshot.
func (h *PricingConfigHolder) Catalog() pricingdomain.Catalog {
	return h.current.Load().(pricingdomain.Catalog)
}

func readCatalog(v *viper.Viper, fallbackCurrency string) (pricingdomain.Catalog, error) {
	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return pricingdomain.Catalog{}, err
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		cfg.Currency = fallbackCurrency
	}
	return cfg.ToCatalog()
}

// ToCatalog validates the file contents into an immutable catalog.
func (c PricingConfig) ToCatalog() (pricingdomain.Catalog, error) {
	if len(c.Features) == 0 {
		return pricingdomain.Catalog{}, errors.New("pricing.features cannot be empty")
	}

	entries := make([]pricingdomain.CatalogEntry, 0, len(c.Features))
	for _, f := range c.Features {
		entries = append(entries, pricingdomain.CatalogEntry{
			Capability: pricingdomain.NormalizeCapability(f.Key),
			Price: pricingdomain.Price{
				SetupCents:   f.SetupCents,
				MonthlyCents: f.MonthlyCents,
			},
		})
	}

	rules := make([]pricingdomain.SynergyRule, 0, len(c.Synergies))
	for _, s := range c.Synergies {
		rules = append(rules, pricingdomain.SynergyRule{
			Name:             s.Name,
			Requires:         pricingdomain.ParseCapabilities(s.Requires),
			SetupBasisPoints: s.SetupBasisPoints,
		})
	}

	return pricingdomain.NewCatalog(c.Currency, entries, rules)
}

func withCurrency(catalog pricingdomain.Catalog, currency string) (pricingdomain.Catalog, error) {
	entries := make([]pricingdomain.CatalogEntry, 0)
	for _, c := range catalog.Capabilities() {
		price, _ := catalog.Price(c)
		entries = append(entries, pricingdomain.CatalogEntry{Capability: c, Price: price})
	}
	return pricingdomain.NewCatalog(currency, entries, catalog.Synergies())
}
