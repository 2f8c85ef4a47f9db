// Package credentials stores and retrieves the upstream API token using
// the OS-native keyring, with fallback to an environment variable.
package credentials

import (
	"context"
	"encoding/json"
	"os"
	"strings"
)

const (
	service = "boardcache"
	account = "notion"

	// EnvToken is the environment fallback for the upstream API token.
	EnvToken = "BOARDCACHE_NOTION_TOKEN"
)

// Source indicates where a token was retrieved from.
type Source string

const (
	SourceKeyring     Source = "keyring"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// TokenInfo contains the token and where it came from.
type TokenInfo struct {
	Source Source
	Token  string
	Found  bool
}

// JSON serializes the token info with the token itself excluded.
func (t *TokenInfo) JSON() ([]byte, error) {
	output := struct {
		Source string `json:"source"`
		Found  bool   `json:"found"`
	}{
		Source: string(t.Source),
		Found:  t.Found,
	}
	return json.Marshal(output)
}

// Keyring is the interface for keyring operations.
type Keyring interface {
	Set(service, account, password string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager handles token storage and lookup.
type Manager struct {
	keyring Keyring
}

// ManagerOption is a functional option for Manager.
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation.
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// NewManager creates a new credential manager backed by the OS keyring.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring: &systemKeyring{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Set stores the upstream token in the keyring.
func (m *Manager) Set(ctx context.Context, token string) error {
	return m.keyring.Set(service, account, token)
}

// Get retrieves the upstream token, trying the keyring first and falling
// back to the environment. A missing token is not an error.
func (m *Manager) Get(ctx context.Context) (*TokenInfo, error) {
	token, err := m.keyring.Get(service, account)
	if err == nil && token != "" {
		return &TokenInfo{Source: SourceKeyring, Token: token, Found: true}, nil
	}

	if token := os.Getenv(EnvToken); token != "" {
		return &TokenInfo{Source: SourceEnvironment, Token: token, Found: true}, nil
	}

	return &TokenInfo{Source: SourceNone, Found: false}, nil
}

// Delete removes the token from the keyring. Deleting an absent token is
// not an error.
func (m *Manager) Delete(ctx context.Context) error {
	err := m.keyring.Delete(service, account)
	if err != nil && strings.Contains(err.Error(), "not found") {
		return nil
	}
	return err
}
