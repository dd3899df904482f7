package adapters

import (
	"testing"

	"github.com/smallbiznis/registrar/internal/payment/adapters/stripe"
	"github.com/smallbiznis/registrar/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBuildsConfiguredAdapters(t *testing.T) {
	registry := NewRegistry(stripe.NewFactory(), nil)
	assert.True(t, registry.ProviderExists(" Stripe "))
	assert.False(t, registry.ProviderExists("adyen"))

	_, err := registry.Adapter("stripe")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	assert.ErrorIs(t, registry.Configure(domain.AdapterConfig{Provider: "adyen"}), domain.ErrProviderNotFound)
	require.NoError(t, registry.Configure(domain.AdapterConfig{
		Provider: "STRIPE",
		Config:   map[string]any{"webhook_secret": "whsec_test"},
	}))
	assert.Equal(t, []string{"stripe"}, registry.Providers())

	first, err := registry.Adapter("stripe")
	require.NoError(t, err)
	second, err := registry.Adapter("stripe")
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = registry.Adapter("unknown")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}
