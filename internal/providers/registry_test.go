package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsotosa-ops/oasis-api/internal/config"
)

func TestRegistryResolve(t *testing.T) {
	registry := NewRegistry(config.ProviderSecrets{Typeform: "tf-secret"})

	descriptor, ok := registry.Resolve("typeform")
	require.True(t, ok)
	assert.Equal(t, "typeform", descriptor.Name())
	assert.Equal(t, "tf-secret", descriptor.Secret())
	assert.True(t, descriptor.Configured())

	// Lookup is case-insensitive
	descriptor, ok = registry.Resolve("TypeForm")
	require.True(t, ok)
	assert.Equal(t, "typeform", descriptor.Name())

	_, ok = registry.Resolve("github")
	assert.False(t, ok)
}

func TestRegistryUnconfiguredProvider(t *testing.T) {
	registry := NewRegistry(config.ProviderSecrets{Typeform: "tf-secret"})

	descriptor, ok := registry.Resolve("stripe")
	require.True(t, ok, "provider stays discoverable without a secret")
	assert.False(t, descriptor.Configured())
	assert.Empty(t, descriptor.Secret())
}

func TestRegistryNames(t *testing.T) {
	registry := NewRegistry(config.ProviderSecrets{})
	assert.Equal(t, []string{"stripe", "typeform"}, registry.Names())
}

func TestRegistryStatus(t *testing.T) {
	registry := NewRegistry(config.ProviderSecrets{Typeform: "tf-secret"})

	status := registry.Status()
	assert.Equal(t, 2, status.TotalProviders)
	assert.Equal(t, 1, status.ConfiguredProviders)

	require.Contains(t, status.Providers, "typeform")
	assert.True(t, status.Providers["typeform"].SecretConfigured)
	assert.Equal(t, "Typeform-Signature", status.Providers["typeform"].SignatureHeader)

	require.Contains(t, status.Providers, "stripe")
	assert.False(t, status.Providers["stripe"].SecretConfigured)
	assert.Equal(t, "Stripe-Signature", status.Providers["stripe"].SignatureHeader)
}
