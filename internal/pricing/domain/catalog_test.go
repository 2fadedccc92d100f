package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalog_Validation(t *testing.T) {
	cases := []struct {
		name      string
		currency  string
		entries   []CatalogEntry
		synergies []SynergyRule
	}{
		{name: "missing currency", entries: []CatalogEntry{{Capability: "a"}}},
		{name: "duplicate", currency: "usd", entries: []CatalogEntry{{Capability: "a"}, {Capability: "A"}}},
		{name: "negative", currency: "usd", entries: []CatalogEntry{{Capability: "a", Price: Price{MonthlyCents: -1}}}},
		{
			name:      "unknown synergy capability",
			currency:  "usd",
			entries:   []CatalogEntry{{Capability: "a"}},
			synergies: []SynergyRule{{Name: "x", Requires: []Capability{"a", "b"}}},
		},
		{
			name:      "single capability synergy",
			currency:  "usd",
			entries:   []CatalogEntry{{Capability: "a"}},
			synergies: []SynergyRule{{Name: "x", Requires: []Capability{"a", "a"}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCatalog(tc.currency, tc.entries, tc.synergies)
			require.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestCatalog_AccessorsReturnCopies(t *testing.T) {
	catalog := DefaultCatalog()

	caps := catalog.Capabilities()
	caps[0] = "mutated"
	assert.Equal(t, CapabilityWebsite, catalog.Capabilities()[0])

	rules := catalog.Synergies()
	rules[0].Requires[0] = "mutated"
	assert.Equal(t, CapabilityWebApp, catalog.Synergies()[0].Requires[0])
}

func TestParseCapabilities(t *testing.T) {
	got := ParseCapabilities([]string{" Web-App", "", "ai "})
	assert.Equal(t, []Capability{CapabilityWebApp, CapabilityAI}, got)
	assert.Equal(t, []string{"web-app", "ai"}, Strings(got))
}
