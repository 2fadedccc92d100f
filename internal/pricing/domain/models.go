// Package domain holds the pricing catalog and quote value types.
package domain

import (
	"sort"
	"strings"
)

// Capability is a sellable product module with its own base price.
type Capability string

const (
	CapabilityWebsite           Capability = "website"
	CapabilityWebApp            Capability = "web-app"
	CapabilityAI                Capability = "ai"
	CapabilityAutomations       Capability = "automations"
	CapabilityPayments          Capability = "payments"
	CapabilityContentManagement Capability = "content-management"
	CapabilityEmail             Capability = "email"
)

// NormalizeCapability trims and lowercases a raw capability key.
func NormalizeCapability(raw string) Capability {
	return Capability(strings.ToLower(strings.TrimSpace(raw)))
}

// ParseCapabilities normalizes raw keys, dropping empty entries.
func ParseCapabilities(raw []string) []Capability {
	out := make([]Capability, 0, len(raw))
	for _, item := range raw {
		c := NormalizeCapability(item)
		if c == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Strings returns the capability keys as plain strings.
func Strings(caps []Capability) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		out = append(out, string(c))
	}
	return out
}

// Price is the base (setup, monthly) pair of a capability, in cents.
type Price struct {
	SetupCents   int64 `json:"setup_cents"`
	MonthlyCents int64 `json:"monthly_cents"`
}

// LineAmount is one breakdown line of a quote, in cents.
type LineAmount struct {
	Setup   int64 `json:"setup"`
	Monthly int64 `json:"monthly"`
}

// QuoteLine is a breakdown line paired with its capability.
type QuoteLine struct {
	Capability Capability `json:"capability"`
	LineAmount
}

// Quote is derived from a feature selection and always replaced wholesale.
type Quote struct {
	Currency     string                    `json:"currency"`
	SetupTotal   int64                     `json:"setup_total"`
	MonthlyTotal int64                     `json:"monthly_total"`
	Capabilities []Capability              `json:"capabilities"`
	Breakdown    map[Capability]LineAmount `json:"breakdown"`
	// Synergies names the rules that adjusted this quote.
	Synergies []string `json:"synergies,omitempty"`
}

// Lines returns the breakdown in catalog order.
func (q Quote) Lines() []QuoteLine {
	lines := make([]QuoteLine, 0, len(q.Breakdown))
	seen := make(map[Capability]struct{}, len(q.Capabilities))
	for _, c := range q.Capabilities {
		line, ok := q.Breakdown[c]
		if !ok {
			continue
		}
		seen[c] = struct{}{}
		lines = append(lines, QuoteLine{Capability: c, LineAmount: line})
	}
	if len(seen) == len(q.Breakdown) {
		return lines
	}

	rest := make([]Capability, 0, len(q.Breakdown)-len(seen))
	for c := range q.Breakdown {
		if _, ok := seen[c]; !ok {
			rest = append(rest, c)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, c := range rest {
		lines = append(lines, QuoteLine{Capability: c, LineAmount: q.Breakdown[c]})
	}
	return lines
}

// IsZero reports whether the quote carries no billable amount.
func (q Quote) IsZero() bool {
	return q.SetupTotal == 0 && q.MonthlyTotal == 0
}

// Engine turns a feature selection into a quote.
type Engine interface {
	ComputeQuote(selection []Capability) (Quote, error)
}
