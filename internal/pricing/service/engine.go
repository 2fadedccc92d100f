// Package service computes quotes from a pricing catalog.
package service

import (
	"fmt"

	"github.com/smallbiznis/atelier/internal/pricing/domain"
)

// Engine is a pure function of a catalog snapshot and a selection.
type Engine struct {
	catalog domain.Catalog
}

func NewEngine(catalog domain.Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// ComputeQuote prices the selection. Duplicates collapse, unknown keys fail.
func (e *Engine) ComputeQuote(selection []domain.Capability) (domain.Quote, error) {
	selected := make(map[domain.Capability]struct{}, len(selection))
	for _, raw := range selection {
		c := domain.NormalizeCapability(string(raw))
		if _, ok := e.catalog.Price(c); !ok {
			return domain.Quote{}, fmt.Errorf("%w: %q", domain.ErrInvalidFeature, raw)
		}
		selected[c] = struct{}{}
	}

	quote := domain.Quote{
		Currency:     e.catalog.Currency(),
		Capabilities: make([]domain.Capability, 0, len(selected)),
		Breakdown:    make(map[domain.Capability]domain.LineAmount, len(selected)),
	}

	for _, c := range e.catalog.Capabilities() {
		if _, ok := selected[c]; !ok {
			continue
		}
		price, _ := e.catalog.Price(c)
		quote.Capabilities = append(quote.Capabilities, c)
		quote.Breakdown[c] = domain.LineAmount{
			Setup:   price.SetupCents,
			Monthly: price.MonthlyCents,
		}
	}

	// each rule scales the base setup price, so rules never compound
	for _, rule := range e.catalog.Synergies() {
		if !rule.Matches(selected) {
			continue
		}
		quote.Synergies = append(quote.Synergies, rule.Name)
		for _, c := range rule.Requires {
			price, _ := e.catalog.Price(c)
			line := quote.Breakdown[c]
			line.Setup += ApplyBasisPoints(price.SetupCents, rule.SetupBasisPoints)
			quote.Breakdown[c] = line
		}
	}

	for _, line := range quote.Breakdown {
		quote.SetupTotal += line.Setup
		quote.MonthlyTotal += line.Monthly
	}

	return quote, nil
}

// ApplyBasisPoints returns amount*bps/10000 rounded half up.
func ApplyBasisPoints(amount, bps int64) int64 {
	return (amount*bps + 5_000) / 10_000
}

// CatalogSource yields the catalog snapshot in effect.
type CatalogSource interface {
	Catalog() domain.Catalog
}

// ReloadingEngine prices against whatever catalog the source currently holds.
type ReloadingEngine struct {
	source CatalogSource
}

func NewReloadingEngine(source CatalogSource) *ReloadingEngine {
	return &ReloadingEngine{source: source}
}

func (e *ReloadingEngine) ComputeQuote(selection []domain.Capability) (domain.Quote, error) {
	return NewEngine(e.source.Catalog()).ComputeQuote(selection)
}
