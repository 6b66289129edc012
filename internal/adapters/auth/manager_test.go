package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sheetledger/sheetledger/internal/adapters/auth"
	"github.com/sheetledger/sheetledger/internal/core/ports"
)

// stubProvider counts calls and hands out canned tokens.
type stubProvider struct {
	authorizeCalls atomic.Int64
	refreshCalls   atomic.Int64
	authorizeErr   error
	block          chan struct{}
}

var _ ports.AuthProvider = (*stubProvider)(nil)

func (p *stubProvider) Authorize(context.Context) (*oauth2.Token, error) {
	if p.block != nil {
		<-p.block
	}
	p.authorizeCalls.Add(1)
	if p.authorizeErr != nil {
		return nil, p.authorizeErr
	}
	return &oauth2.Token{
		AccessToken:  "authorized",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (p *stubProvider) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	p.refreshCalls.Add(1)
	return &oauth2.Token{
		AccessToken:  "refreshed",
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func TestAuthenticateReusesValidToken(t *testing.T) {
	provider := &stubProvider{}
	store := auth.NewMemoryTokenStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "alice", &oauth2.Token{
		AccessToken: "cached",
		Expiry:      time.Now().Add(time.Hour),
	}))

	m := auth.NewManager(provider, store, 5*time.Minute, nil)
	token, err := m.Authenticate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "cached", token.AccessToken)
	assert.Zero(t, provider.authorizeCalls.Load())
	assert.Zero(t, provider.refreshCalls.Load())
}

func TestAuthenticateRefreshesExpiringToken(t *testing.T) {
	provider := &stubProvider{}
	store := auth.NewMemoryTokenStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "alice", &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Minute),
	}))

	m := auth.NewManager(provider, store, 5*time.Minute, nil)
	token, err := m.Authenticate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "refreshed", token.AccessToken)
	assert.Equal(t, int64(1), provider.refreshCalls.Load())
	assert.Zero(t, provider.authorizeCalls.Load())

	// The refreshed token is persisted for the next session.
	stored, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "refreshed", stored.AccessToken)
}

func TestAuthenticateAuthorizesWithoutStoredToken(t *testing.T) {
	provider := &stubProvider{}
	store := auth.NewMemoryTokenStore()

	m := auth.NewManager(provider, store, 5*time.Minute, nil)
	token, err := m.Authenticate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "authorized", token.AccessToken)
	assert.Equal(t, int64(1), provider.authorizeCalls.Load())
}

func TestAuthenticateAuthorizesWhenExpiredWithoutRefreshToken(t *testing.T) {
	provider := &stubProvider{}
	store := auth.NewMemoryTokenStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "alice", &oauth2.Token{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Minute),
	}))

	m := auth.NewManager(provider, store, 5*time.Minute, nil)
	token, err := m.Authenticate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "authorized", token.AccessToken)
	assert.Equal(t, int64(1), provider.authorizeCalls.Load())
	assert.Zero(t, provider.refreshCalls.Load())
}

func TestAuthenticateTreatsZeroExpiryAsValid(t *testing.T) {
	provider := &stubProvider{}
	store := auth.NewMemoryTokenStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "alice", &oauth2.Token{AccessToken: "forever"}))

	m := auth.NewManager(provider, store, 5*time.Minute, nil)
	token, err := m.Authenticate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "forever", token.AccessToken)
	assert.Zero(t, provider.authorizeCalls.Load())
}

func TestAuthenticateSharesInFlightCall(t *testing.T) {
	provider := &stubProvider{block: make(chan struct{})}
	store := auth.NewMemoryTokenStore()
	m := auth.NewManager(provider, store, 5*time.Minute, nil)

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]*oauth2.Token, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.Authenticate(context.Background(), "alice")
		}(i)
	}

	// Give every goroutine time to join the in-flight call, then release.
	time.Sleep(50 * time.Millisecond)
	close(provider.block)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "authorized", tokens[i].AccessToken)
	}
	assert.Equal(t, int64(1), provider.authorizeCalls.Load())
}

func TestAuthenticatePropagatesProviderError(t *testing.T) {
	providerErr := errors.New("consent denied")
	provider := &stubProvider{authorizeErr: providerErr}
	store := auth.NewMemoryTokenStore()

	m := auth.NewManager(provider, store, 5*time.Minute, nil)
	_, err := m.Authenticate(context.Background(), "alice")
	assert.True(t, errors.Is(err, providerErr))

	stored, loadErr := store.Load(context.Background(), "alice")
	require.NoError(t, loadErr)
	assert.Nil(t, stored, "failed authorization must not persist a token")
}
