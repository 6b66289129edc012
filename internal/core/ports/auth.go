package ports

import (
	"context"

	"golang.org/x/oauth2"
)

// AuthProvider performs OAuth2 grants against an identity provider.
// Both operations fail with errors wrapping apperrors.ErrAuth.
type AuthProvider interface {
	// Authorize performs the interactive or out-of-band grant flow and
	// returns a fresh token.
	Authorize(ctx context.Context) (*oauth2.Token, error)
	// Refresh exchanges a refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// TokenStore persists tokens per user. Load returns (nil, nil) when no
// token is held for the user.
type TokenStore interface {
	Load(ctx context.Context, userID string) (*oauth2.Token, error)
	Save(ctx context.Context, userID string, token *oauth2.Token) error
}
