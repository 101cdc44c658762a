package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/you/recurse-review/internal/zulip"
)

// Validator confirms credentials against the live service.
type Validator interface {
	ValidateCredentials(ctx context.Context, creds zulip.Credentials) (string, error)
}

// Manager holds the Zulip credentials in use and swaps them on Reload. A failed
// reload keeps the previous credentials.
type Manager struct {
	loader    *FileLoader
	validator Validator

	mu      sync.RWMutex
	current zulip.Credentials
	site    string
}

// NewManager seeds the manager with static credentials. loader may be nil when
// no zuliprc is configured.
func NewManager(static zulip.Credentials, loader *FileLoader, validator Validator) *Manager {
	return &Manager{loader: loader, validator: validator, current: static}
}

// ZulipCredentials implements zulip.CredentialsProvider.
func (m *Manager) ZulipCredentials() zulip.Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Site returns the realm named in the last loaded zuliprc, if any.
func (m *Manager) Site() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.site
}

// Reload re-reads the zuliprc and returns the email now in use.
func (m *Manager) Reload() (string, error) {
	if m.loader == nil {
		return "", fmt.Errorf("zuliprc not configured")
	}
	rc, changed, err := m.loader.Load()
	if err != nil {
		return "", fmt.Errorf("load %s: %w", m.loader.Path(), err)
	}
	creds := zulip.Credentials{Email: rc.Email, APIKey: rc.Key}

	if m.validator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		name, err := m.validator.ValidateCredentials(ctx, creds)
		if err != nil {
			return "", fmt.Errorf("validate: %w", err)
		}
		slog.Info("credentials: validated zulip account", "account", name)
	}

	m.mu.Lock()
	m.current = creds
	m.site = strings.TrimSpace(rc.Site)
	m.mu.Unlock()

	if changed {
		slog.Info("credentials: zulip credentials reloaded", "email", rc.Email, "path", m.loader.Path())
	}
	return rc.Email, nil
}
