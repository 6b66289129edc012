// Package auth manages the OAuth2 credential lifecycle: obtaining,
// caching and refreshing tokens through pluggable provider and store
// capabilities.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/sheetledger/sheetledger/internal/core/ports"
)

// Manager returns currently-valid tokens for users, refreshing or
// re-authorizing through the provider when the stored token is expired or
// within the refresh threshold of expiring. Concurrent calls for the same
// user share one in-flight provider call.
type Manager struct {
	provider         ports.AuthProvider
	store            ports.TokenStore
	refreshThreshold time.Duration
	logger           *slog.Logger
	group            singleflight.Group
}

// NewManager creates a Manager. refreshThreshold is how close to its
// expiry a token may be before it is refreshed proactively.
func NewManager(provider ports.AuthProvider, store ports.TokenStore, refreshThreshold time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		provider:         provider,
		store:            store,
		refreshThreshold: refreshThreshold,
		logger:           logger,
	}
}

// Authenticate returns a valid token for the user. Later callers for the
// same user wait for and reuse an in-flight refresh or authorization
// rather than issuing duplicate provider calls.
func (m *Manager) Authenticate(ctx context.Context, userID string) (*oauth2.Token, error) {
	v, err, _ := m.group.Do(userID, func() (any, error) {
		return m.authenticate(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (m *Manager) authenticate(ctx context.Context, userID string) (*oauth2.Token, error) {
	token, err := m.store.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load token for %s: %w", userID, err)
	}
	if token != nil && m.stillValid(token) {
		return token, nil
	}

	var fresh *oauth2.Token
	switch {
	case token != nil && token.RefreshToken != "":
		m.logger.Debug("refreshing token", slog.String("user_id", userID))
		fresh, err = m.provider.Refresh(ctx, token.RefreshToken)
	default:
		m.logger.Info("authorizing user", slog.String("user_id", userID))
		fresh, err = m.provider.Authorize(ctx)
	}
	if err != nil {
		return nil, err
	}

	if err := m.store.Save(ctx, userID, fresh); err != nil {
		return nil, fmt.Errorf("save token for %s: %w", userID, err)
	}
	return fresh, nil
}

func (m *Manager) stillValid(token *oauth2.Token) bool {
	if token.AccessToken == "" {
		return false
	}
	if token.Expiry.IsZero() {
		return true
	}
	return time.Now().Add(m.refreshThreshold).Before(token.Expiry)
}
