package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/sheetledger/sheetledger/internal/apperrors"
	"github.com/sheetledger/sheetledger/internal/core/ports"
)

// CodePrompt obtains an authorization code out of band: it presents the
// grant URL to the user and returns the code they bring back.
type CodePrompt func(ctx context.Context, authURL string) (string, error)

// OAuthProvider implements the provider capability over a standard
// oauth2.Config: Authorize runs the out-of-band authorization-code flow,
// Refresh exchanges a refresh token through the config's token source.
type OAuthProvider struct {
	config *oauth2.Config
	prompt CodePrompt
}

var _ ports.AuthProvider = (*OAuthProvider)(nil)

func NewOAuthProvider(config *oauth2.Config, prompt CodePrompt) *OAuthProvider {
	return &OAuthProvider{config: config, prompt: prompt}
}

func (p *OAuthProvider) Authorize(ctx context.Context) (*oauth2.Token, error) {
	state := uuid.NewString()
	authURL := p.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	code, err := p.prompt(ctx, authURL)
	if err != nil {
		return nil, fmt.Errorf("%w: obtain authorization code: %v", apperrors.ErrAuth, err)
	}
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange authorization code: %v", apperrors.ErrAuth, err)
	}
	return token, nil
}

func (p *OAuthProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %v", apperrors.ErrAuth, err)
	}
	return token, nil
}
