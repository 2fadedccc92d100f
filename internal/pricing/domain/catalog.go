package domain

import (
	"fmt"
	"strings"
)

// SynergyRule raises the setup line of each required capability by SetupBasisPoints
// of its base setup price when every required capability is selected.
type SynergyRule struct {
	Name             string       `json:"name"`
	Requires         []Capability `json:"requires"`
	SetupBasisPoints int64        `json:"setup_basis_points"`
}

// Matches reports whether every required capability is in the selection.
func (r SynergyRule) Matches(selected map[Capability]struct{}) bool {
	if len(r.Requires) == 0 {
		return false
	}
	for _, c := range r.Requires {
		if _, ok := selected[c]; !ok {
			return false
		}
	}
	return true
}

// CatalogEntry pairs a capability with its base price.
type CatalogEntry struct {
	Capability Capability
	Price      Price
}

// Catalog is immutable pricing reference data. Build it with NewCatalog.
type Catalog struct {
	currency  string
	prices    map[Capability]Price
	order     []Capability
	synergies []SynergyRule
}

// NewCatalog validates and copies the given entries and rules.
func NewCatalog(currency string, entries []CatalogEntry, synergies []SynergyRule) (Catalog, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return Catalog{}, fmt.Errorf("%w: missing currency", ErrInvalidCatalog)
	}

	prices := make(map[Capability]Price, len(entries))
	order := make([]Capability, 0, len(entries))
	for _, entry := range entries {
		key := NormalizeCapability(string(entry.Capability))
		if key == "" {
			return Catalog{}, fmt.Errorf("%w: empty capability key", ErrInvalidCatalog)
		}
		if _, dup := prices[key]; dup {
			return Catalog{}, fmt.Errorf("%w: duplicate capability %q", ErrInvalidCatalog, key)
		}
		if entry.Price.SetupCents < 0 || entry.Price.MonthlyCents < 0 {
			return Catalog{}, fmt.Errorf("%w: negative price for %q", ErrInvalidCatalog, key)
		}
		prices[key] = entry.Price
		order = append(order, key)
	}

	rules := make([]SynergyRule, 0, len(synergies))
	for _, rule := range synergies {
		if rule.SetupBasisPoints < 0 {
			return Catalog{}, fmt.Errorf("%w: negative synergy %q", ErrInvalidCatalog, rule.Name)
		}
		requires := make([]Capability, 0, len(rule.Requires))
		seen := make(map[Capability]struct{}, len(rule.Requires))
		for _, raw := range rule.Requires {
			key := NormalizeCapability(string(raw))
			if _, ok := prices[key]; !ok {
				return Catalog{}, fmt.Errorf("%w: synergy %q names unknown capability %q", ErrInvalidCatalog, rule.Name, key)
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			requires = append(requires, key)
		}
		if len(requires) < 2 {
			return Catalog{}, fmt.Errorf("%w: synergy %q needs at least two capabilities", ErrInvalidCatalog, rule.Name)
		}
		rules = append(rules, SynergyRule{
			Name:             strings.TrimSpace(rule.Name),
			Requires:         requires,
			SetupBasisPoints: rule.SetupBasisPoints,
		})
	}

	return Catalog{
		currency:  currency,
		prices:    prices,
		order:     order,
		synergies: rules,
	}, nil
}

// DefaultCatalog is the built-in price list used when no pricing file is configured.
func DefaultCatalog() Catalog {
	catalog, err := NewCatalog("usd", []CatalogEntry{
		{Capability: CapabilityWebsite, Price: Price{SetupCents: 150_000, MonthlyCents: 5_000}},
		{Capability: CapabilityWebApp, Price: Price{SetupCents: 500_000, MonthlyCents: 15_000}},
		{Capability: CapabilityAI, Price: Price{SetupCents: 300_000, MonthlyCents: 20_000}},
		{Capability: CapabilityAutomations, Price: Price{SetupCents: 200_000, MonthlyCents: 10_000}},
		{Capability: CapabilityPayments, Price: Price{SetupCents: 100_000, MonthlyCents: 5_000}},
		{Capability: CapabilityContentManagement, Price: Price{SetupCents: 80_000, MonthlyCents: 3_000}},
		{Capability: CapabilityEmail, Price: Price{SetupCents: 50_000, MonthlyCents: 2_000}},
	}, []SynergyRule{
		{Name: "web-app+ai", Requires: []Capability{CapabilityWebApp, CapabilityAI}, SetupBasisPoints: 1_000},
	})
	if err != nil {
		panic(err)
	}
	return catalog
}

// Currency returns the catalog currency (lowercase ISO code).
func (c Catalog) Currency() string { return c.currency }

// Price returns the base price for a capability.
func (c Catalog) Price(capability Capability) (Price, bool) {
	p, ok := c.prices[capability]
	return p, ok
}

// Capabilities returns the known capabilities in catalog order.
func (c Catalog) Capabilities() []Capability {
	out := make([]Capability, len(c.order))
	copy(out, c.order)
	return out
}

// Synergies returns a copy of the synergy rules.
func (c Catalog) Synergies() []SynergyRule {
	out := make([]SynergyRule, 0, len(c.synergies))
	for _, rule := range c.synergies {
		requires := make([]Capability, len(rule.Requires))
		copy(requires, rule.Requires)
		out = append(out, SynergyRule{Name: rule.Name, Requires: requires, SetupBasisPoints: rule.SetupBasisPoints})
	}
	return out
}
