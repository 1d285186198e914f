package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Manager routes payment calls to a registered gateway.
type Manager struct {
	gateways        map[string]Gateway
	defaultProvider string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider selects the gateway used when callers do not name one.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(gateways map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	registered := make(map[string]Gateway, len(gateways))
	for key, gw := range gateways {
		name := strings.ToLower(strings.TrimSpace(key))
		if name == "" || gw == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", key)
		}
		registered[name] = gw
	}
	m := &Manager{gateways: registered}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Resolve returns the gateway for provider, falling back to the default and then to the only
// registered gateway.
func (m *Manager) Resolve(provider string) (string, Gateway, error) {
	if m == nil || len(m.gateways) == 0 {
		return "", nil, errors.New("payments: manager is not configured")
	}
	if name := strings.ToLower(strings.TrimSpace(provider)); name != "" {
		if gw, ok := m.gateways[name]; ok {
			return name, gw, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
	}
	if gw, ok := m.gateways[m.defaultProvider]; ok {
		return m.defaultProvider, gw, nil
	}
	if len(m.gateways) == 1 {
		for name, gw := range m.gateways {
			return name, gw, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// InitializePayment delegates to the default gateway.
func (m *Manager) InitializePayment(ctx context.Context, req InitializeRequest) (Initialization, error) {
	name, gw, err := m.Resolve("")
	if err != nil {
		return Initialization{}, err
	}
	init, err := gw.InitializePayment(ctx, req)
	if err != nil {
		return Initialization{}, err
	}
	init.Provider = name
	return init, nil
}

// VerifyPayment delegates to the default gateway.
func (m *Manager) VerifyPayment(ctx context.Context, reference string) (Verification, error) {
	name, gw, err := m.Resolve("")
	if err != nil {
		return Verification{}, err
	}
	verification, err := gw.VerifyPayment(ctx, reference)
	if err != nil {
		return Verification{}, err
	}
	verification.Provider = name
	return verification, nil
}

var _ Gateway = (*Manager)(nil)
