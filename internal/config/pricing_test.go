package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pricingdomain "github.com/smallbiznis/atelier/internal/pricing/domain"
)

func TestPricingConfigHolder_DefaultsWhenFileMissing(t *testing.T) {
	holder, err := NewPricingConfigHolder(Config{Billing: BillingConfig{Currency: "usd", PricingConfigPath: t.TempDir()}})
	require.NoError(t, err)

	catalog := holder.Catalog()
	assert.Equal(t, "usd", catalog.Currency())

	price, ok := catalog.Price(pricingdomain.CapabilityWebApp)
	require.True(t, ok)
	assert.Equal(t, int64(500_000), price.SetupCents)
	assert.Equal(t, int64(15_000), price.MonthlyCents)
	assert.Len(t, catalog.Synergies(), 1)
}

func TestPricingConfigHolder_DefaultsHonorCurrency(t *testing.T) {
	holder, err := NewPricingConfigHolder(Config{Billing: BillingConfig{Currency: "EUR", PricingConfigPath: t.TempDir()}})
	require.NoError(t, err)
	assert.Equal(t, "eur", holder.Catalog().Currency())
}

func TestPricingConfigHolder_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := `pricing:
  currency: usd
  features:
    - key: website
      setup_cents: 1000
      monthly_cents: 100
    - key: ai
      setup_cents: 2000
      monthly_cents: 200
  synergies:
    - name: website+ai
      requires: [website, ai]
      setup_basis_points: 500
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pricing.yml"), []byte(content), 0o600))

	holder, err := NewPricingConfigHolder(Config{Billing: BillingConfig{Currency: "usd", PricingConfigPath: dir}})
	require.NoError(t, err)

	catalog := holder.Catalog()
	assert.Equal(t, []pricingdomain.Capability{"website", "ai"}, catalog.Capabilities())
	price, ok := catalog.Price("ai")
	require.True(t, ok)
	assert.Equal(t, int64(2000), price.SetupCents)

	rules := catalog.Synergies()
	require.Len(t, rules, 1)
	assert.Equal(t, int64(500), rules[0].SetupBasisPoints)
}

func TestPricingConfigHolder_RejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	content := `pricing:
  currency: usd
  features:
    - key: website
      setup_cents: -1
      monthly_cents: 100
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pricing.yml"), []byte(content), 0o600))

	_, err := NewPricingConfigHolder(Config{Billing: BillingConfig{Currency: "usd", PricingConfigPath: dir}})
	require.ErrorIs(t, err, pricingdomain.ErrInvalidCatalog)
}

func TestPricingConfig_ToCatalogRequiresFeatures(t *testing.T) {
	_, err := PricingConfig{Currency: "usd"}.ToCatalog()
	require.Error(t, err)
}
