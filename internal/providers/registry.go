package providers

import (
	"sort"
	"strings"

	"github.com/fsotosa-ops/oasis-api/internal/config"
)

// Descriptor binds a provider implementation to its configured secret.
// A provider without a secret stays discoverable but must not accept events.
type Descriptor struct {
	Provider
	secret string
}

// Secret returns the configured webhook secret, or "" when unconfigured.
func (d Descriptor) Secret() string {
	return d.secret
}

// Configured reports whether the provider has a non-empty secret.
func (d Descriptor) Configured() bool {
	return d.secret != ""
}

// Registry maps provider names to their descriptors. The provider set is
// static: every supported provider is registered here at construction and
// the registry is read-only afterwards. Adding a provider means adding one
// implementation and one Register call.
type Registry struct {
	providers map[string]Descriptor
}

// NewRegistry builds the registry from the static provider set and the
// secrets loaded at startup.
func NewRegistry(secrets config.ProviderSecrets) *Registry {
	r := &Registry{providers: make(map[string]Descriptor)}
	r.register(NewTypeform(), secrets)
	r.register(NewStripe(), secrets)
	return r
}

func (r *Registry) register(p Provider, secrets config.ProviderSecrets) {
	name := strings.ToLower(p.Name())
	r.providers[name] = Descriptor{Provider: p, secret: secrets.Secret(name)}
}

// Resolve looks up a provider by name, case-insensitively.
func (r *Registry) Resolve(name string) (Descriptor, bool) {
	d, ok := r.providers[strings.ToLower(name)]
	return d, ok
}

// Names lists all registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderInfo describes one registered provider for the status endpoint.
type ProviderInfo struct {
	Name             string `json:"name"`
	SignatureHeader  string `json:"signature_header"`
	SecretConfigured bool   `json:"secret_configured"`
}

// Status summarizes the registry for dashboards and debugging.
type Status struct {
	TotalProviders      int                     `json:"total_providers"`
	ConfiguredProviders int                     `json:"configured_providers"`
	Providers           map[string]ProviderInfo `json:"providers"`
}

// Status reports every provider and its configuration state.
func (r *Registry) Status() Status {
	status := Status{
		TotalProviders: len(r.providers),
		Providers:      make(map[string]ProviderInfo, len(r.providers)),
	}
	for name, d := range r.providers {
		if d.Configured() {
			status.ConfiguredProviders++
		}
		status.Providers[name] = ProviderInfo{
			Name:             name,
			SignatureHeader:  d.SignatureHeader(),
			SecretConfigured: d.Configured(),
		}
	}
	return status
}
