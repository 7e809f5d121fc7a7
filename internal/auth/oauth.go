package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"apisim/internal/core"
)

const (
	// DefaultRefreshMargin is how early a cached token is refreshed.
	DefaultRefreshMargin = 60 * time.Second
	// DefaultTokenLifetime applies when the token endpoint omits expires_in.
	DefaultTokenLifetime = 3600 * time.Second
	// DefaultExchangeTimeout bounds one token exchange.
	DefaultExchangeTimeout = 10 * time.Second
	// DefaultRetryBackoff is how long the fallback is used after a failed
	// exchange before the endpoint is tried again.
	DefaultRetryBackoff = 5 * time.Second
)

// oauthProvider exchanges client credentials for an access token and caches
// it until shortly before expiry. The mutex is held across the exchange so
// concurrent callers wait for one token instead of each fetching their own.
type oauthProvider struct {
	cfg      *clientcredentials.Config
	fallback string
	margin   time.Duration
	timeout  time.Duration
	backoff  time.Duration
	client   *http.Client
	clock    core.Clock
	logger   zerolog.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
	retryAt time.Time
}

func newOAuth2(c Config, o *options) Provider {
	margin := c.RefreshMargin
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	p := &oauthProvider{
		fallback: c.Token,
		margin:   margin,
		timeout:  o.timeout,
		backoff:  o.backoff,
		client:   o.client,
		clock:    o.clock,
		logger:   o.logger,
	}
	if c.TokenURL != "" && c.ClientID != "" && c.ClientSecret != "" {
		p.cfg = &clientcredentials.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     c.TokenURL,
			Scopes:       c.Scopes,
		}
	}
	return p
}

func (p *oauthProvider) Scheme() Scheme { return OAuth2 }

func (p *oauthProvider) Headers(ctx context.Context) map[string]string {
	token := p.accessToken(ctx)
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func (p *oauthProvider) accessToken(ctx context.Context) string {
	if p.cfg == nil {
		return p.fallback
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if p.token != "" && now.Before(p.expires.Add(-p.margin)) {
		return p.token
	}
	if now.Before(p.retryAt) {
		return p.fallback
	}

	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	tok, err := p.cfg.Token(ctx)
	if err != nil {
		p.retryAt = p.clock.Now().Add(p.backoff)
		p.logger.Warn().Err(err).
			Str("token_url", p.cfg.TokenURL).
			Dur("retry_in", p.backoff).
			Msg("token exchange failed, using fallback")
		return p.fallback
	}

	lifetime := DefaultTokenLifetime
	if !tok.Expiry.IsZero() {
		lifetime = tok.Expiry.Sub(time.Now())
	}
	p.token = tok.AccessToken
	p.expires = now.Add(lifetime)
	return p.token
}
