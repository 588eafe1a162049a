package auth

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/naotama2002/oidc-login-go/internal/httpclient"
)

const (
	// DefaultSessionTimeout bounds how long a pending session waits for its redirect.
	DefaultSessionTimeout = 300 * time.Second
)

type options struct {
	httpClient      *httpclient.Client
	logger          zerolog.Logger
	sessionTimeout  time.Duration
	userAgent       UserAgent
	verifierFactory IDTokenVerifierFactory
	resolver        *Resolver
	registry        *Registry
}

// Option configures the flow components.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		httpClient:     httpclient.New(nil),
		logger:         zerolog.Nop(),
		sessionTimeout: DefaultSessionTimeout,
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithHTTPClient sets the client used for discovery, token and JWKS requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = httpclient.Wrap(hc)
	}
}

// WithLogger sets the structured logger. Secrets are never logged.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithSessionTimeout sets how long a session waits for the redirect callback.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sessionTimeout = d
		}
	}
}

// WithUserAgent sets the external user agent that presents the authorization URL.
func WithUserAgent(ua UserAgent) Option {
	return func(o *options) {
		o.userAgent = ua
	}
}

// WithIDTokenVerifierFactory replaces the JWKS-backed id_token verifier.
func WithIDTokenVerifierFactory(f IDTokenVerifierFactory) Option {
	return func(o *options) {
		o.verifierFactory = f
	}
}

// WithResolver shares a Resolver (and its metadata cache) between flows.
func WithResolver(r *Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithRegistry shares a Registry between flows so one redirect handler can serve them all.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}
