// Package auth produces per-request authentication headers.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"apisim/internal/core"
)

// Scheme names an authentication variant.
type Scheme string

const (
	None   Scheme = "none"
	Bearer Scheme = "bearer"
	OAuth2 Scheme = "oauth2"
	APIKey Scheme = "api_key"
	Basic  Scheme = "basic"
)

// DefaultAPIKeyHeader carries API keys when no header name is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// Config holds credentials for every variant; only the fields relevant to
// Type are read.
type Config struct {
	Type         Scheme   `yaml:"type"`
	Token        string   `yaml:"token"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
	HeaderName   string   `yaml:"header_name"`
	APIKey       string   `yaml:"api_key"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	// RefreshMargin is how long before expiry a cached token is replaced.
	RefreshMargin time.Duration `yaml:"refresh_margin"`
}

// Provider returns the headers to attach to a request. It never fails:
// problems degrade to fewer headers.
type Provider interface {
	Scheme() Scheme
	Headers(ctx context.Context) map[string]string
}

// Option configures providers built by New.
type Option func(*options)

type options struct {
	client  *http.Client
	clock   core.Clock
	logger  zerolog.Logger
	timeout time.Duration
	backoff time.Duration
}

// WithHTTPClient sets the client used for token exchanges.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithClock sets the clock used for token expiry.
func WithClock(c core.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithExchangeTimeout bounds each OAuth2 token exchange.
func WithExchangeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetryBackoff sets how long a failed token endpoint is left alone
// before the next exchange attempt.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.backoff = d
		}
	}
}

// WithLogger sets the logger used to report degraded authentication.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

var constructors = map[Scheme]func(Config, *options) Provider{
	None:   func(Config, *options) Provider { return none{} },
	"":     func(Config, *options) Provider { return none{} },
	Bearer: newBearer,
	OAuth2: newOAuth2,
	APIKey: func(c Config, _ *options) Provider { return apiKey{header: c.HeaderName, key: c.APIKey} },
	Basic:  func(c Config, _ *options) Provider { return basic{user: c.Username, pass: c.Password} },
}

// Known reports whether s names a supported scheme.
func Known(s Scheme) bool {
	_, ok := constructors[s]
	return ok
}

// New builds the provider for cfg.Type.
func New(cfg Config, opts ...Option) (Provider, error) {
	o := &options{
		clock:   core.RealClock{},
		logger:  zerolog.Nop(),
		timeout: DefaultExchangeTimeout,
		backoff: DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(o)
	}
	build, ok := constructors[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
	return build(cfg, o), nil
}

type none struct{}

func (none) Scheme() Scheme                            { return None }
func (none) Headers(context.Context) map[string]string { return nil }

type bearer struct{ token string }

// newBearer promotes a bearer config carrying client credentials to oauth2.
func newBearer(c Config, o *options) Provider {
	if c.TokenURL != "" && c.ClientID != "" && c.ClientSecret != "" {
		return newOAuth2(c, o)
	}
	return bearer{token: c.Token}
}

func (bearer) Scheme() Scheme { return Bearer }

func (b bearer) Headers(context.Context) map[string]string {
	if b.token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + b.token}
}

type apiKey struct{ header, key string }

func (apiKey) Scheme() Scheme { return APIKey }

func (a apiKey) Headers(context.Context) map[string]string {
	if a.key == "" {
		return nil
	}
	header := a.header
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return map[string]string{header: a.key}
}

type basic struct{ user, pass string }

func (basic) Scheme() Scheme { return Basic }

func (b basic) Headers(context.Context) map[string]string {
	if b.user == "" {
		return nil
	}
	cred := base64.StdEncoding.EncodeToString([]byte(b.user + ":" + b.pass))
	return map[string]string{"Authorization": "Basic " + cred}
}
