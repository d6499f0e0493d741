package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const defaultProviderName = "stripe"

// Manager picks a PSP per checkout method and stamps the chosen provider on
// preferences and lookups.
type Manager struct {
	providers map[string]Provider
	fallback  string
	routes    map[Method]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider names the provider used when no route matches. An empty
// name disables the fallback.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) { m.fallback = providerKey(provider) }
}

// WithMethodRoutes sends a checkout method to a named provider, e.g. Pix to a
// local PSP while cards stay on Stripe.
func WithMethodRoutes(routes map[Method]string) ManagerOption {
	return func(m *Manager) {
		for method, name := range routes {
			m.routes[method] = providerKey(name)
		}
	}
}

// NewManager registers providers by case-insensitive name.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{
		providers: make(map[string]Provider, len(providers)),
		routes:    make(map[Method]string),
	}
	for name, provider := range providers {
		key := providerKey(name)
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", name)
		}
		m.providers[key] = provider
	}
	if _, ok := m.providers[defaultProviderName]; ok {
		m.fallback = defaultProviderName
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// pick resolves, in order: the explicit name, the method route, the fallback
// and finally the only registered provider.
func (m *Manager) pick(name string, method Method) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	for _, key := range []string{providerKey(name), m.routes[method], m.fallback} {
		if provider, ok := m.providers[key]; ok && key != "" {
			return key, provider, nil
		}
	}
	if len(m.providers) == 1 {
		for key, provider := range m.providers {
			return key, provider, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreatePreference delegates to the provider routed for the request method.
func (m *Manager) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	key, provider, err := m.pick("", req.Method)
	if err != nil {
		return Preference{}, err
	}
	pref, err := provider.CreatePreference(ctx, req)
	if err != nil {
		return Preference{}, fmt.Errorf("payments: %s: %w", key, err)
	}
	pref.Provider = key
	return pref, nil
}

// LookupPayment delegates to the named provider, or the fallback when empty.
func (m *Manager) LookupPayment(ctx context.Context, provider string, req LookupRequest) (PaymentDetails, error) {
	key, p, err := m.pick(provider, "")
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := p.LookupPayment(ctx, req)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("payments: %s: %w", key, err)
	}
	if details.Provider == "" {
		details.Provider = key
	}
	return details, nil
}
