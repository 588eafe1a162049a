package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/naotama2002/oidc-login-go/internal/errors"
	"github.com/naotama2002/oidc-login-go/internal/httpclient"
	"github.com/naotama2002/oidc-login-go/internal/logging"
	"github.com/naotama2002/oidc-login-go/internal/metrics"
)

const (
	wellKnownOpenIDConfiguration = "/.well-known/openid-configuration"

	// discoveryTimeout bounds a shared discovery fetch when the HTTP client has no timeout.
	discoveryTimeout = 30 * time.Second
)

// Resolver fetches and validates OpenID Provider metadata. Successful
// results are cached for the lifetime of the Resolver; concurrent lookups of
// the same issuer share a single request. A caller giving up stops only its
// own wait, never the shared request.
type Resolver struct {
	client *httpclient.Client
	logger zerolog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*ProviderMetadata
}

// NewResolver creates a new metadata resolver
func NewResolver(opts ...Option) *Resolver {
	o := applyOptions(opts)
	return &Resolver{
		client: o.httpClient,
		logger: logging.Component(o.logger, "resolver"),
		cache:  make(map[string]*ProviderMetadata),
	}
}

// Resolve returns the provider metadata for issuer. The document's issuer
// must equal the requested issuer exactly, which blocks mix-up attacks.
func (r *Resolver) Resolve(ctx context.Context, issuer string) (*ProviderMetadata, error) {
	if err := validateIssuerURL(issuer); err != nil {
		metrics.DiscoveryTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	r.mu.RLock()
	cached, ok := r.cache[issuer]
	r.mu.RUnlock()
	if ok {
		metrics.DiscoveryTotal.WithLabelValues("cached").Inc()
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.DiscoveryError, "discovery cancelled")
	}

	ch := r.group.DoChan(issuer, func() (any, error) {
		// Shared by every waiting caller; detached from their cancellation.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discoveryTimeout)
		defer cancel()

		metadata, err := r.fetch(fetchCtx, issuer)
		if err != nil {
			metrics.DiscoveryTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		r.mu.Lock()
		r.cache[issuer] = metadata
		r.mu.Unlock()
		metrics.DiscoveryTotal.WithLabelValues("fetched").Inc()
		return metadata, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ProviderMetadata), nil
	case <-ctx.Done():
		return nil, apperrors.Wrap(ctx.Err(), apperrors.DiscoveryError, "discovery cancelled")
	}
}

// Invalidate drops the cached metadata for issuer.
func (r *Resolver) Invalidate(issuer string) {
	r.mu.Lock()
	delete(r.cache, issuer)
	r.mu.Unlock()
}

func (r *Resolver) fetch(ctx context.Context, issuer string) (*ProviderMetadata, error) {
	wellKnownURL := strings.TrimSuffix(issuer, "/") + wellKnownOpenIDConfiguration
	r.logger.Debug().Str("issuer", issuer).Str("url", wellKnownURL).Msg("Fetching discovery document")

	var metadata ProviderMetadata
	if err := r.client.GetJSON(ctx, wellKnownURL, &metadata); err != nil {
		r.logger.Warn().Err(err).Str("issuer", issuer).Msg("Discovery failed")
		appErr := apperrors.Wrap(err, apperrors.DiscoveryError, "failed to fetch discovery document")
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			appErr = appErr.WithStatusCode(statusErr.StatusCode)
		}
		return nil, appErr
	}

	if err := validateMetadata(issuer, &metadata); err != nil {
		r.logger.Warn().Err(err).Str("issuer", issuer).Msg("Discovery document rejected")
		return nil, err
	}

	r.logger.Debug().
		Str("issuer", issuer).
		Str("authorization_endpoint", metadata.AuthorizationEndpoint).
		Str("token_endpoint", metadata.TokenEndpoint).
		Msg("Discovery document accepted")

	return &metadata, nil
}

func validateMetadata(issuer string, m *ProviderMetadata) error {
	if m.Issuer != issuer {
		return apperrors.NewDiscoveryError("issuer mismatch").
			WithCode(CodeIssuerMismatch).
			WithDetails(fmt.Sprintf("requested %q, document declares %q", issuer, m.Issuer))
	}
	if m.AuthorizationEndpoint == "" || m.TokenEndpoint == "" {
		return apperrors.NewDiscoveryError("discovery document missing required endpoints")
	}
	for name, endpoint := range map[string]string{
		"authorization_endpoint": m.AuthorizationEndpoint,
		"token_endpoint":         m.TokenEndpoint,
	} {
		u, err := url.Parse(endpoint)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return apperrors.NewDiscoveryError("discovery document has an invalid endpoint").WithDetails(name)
		}
	}
	if len(m.ResponseTypesSupported) > 0 && !slices.Contains(m.ResponseTypesSupported, "code") {
		return apperrors.NewDiscoveryError("provider does not support the code response type")
	}
	if len(m.CodeChallengeMethodsSupported) > 0 && !slices.Contains(m.CodeChallengeMethodsSupported, CodeChallengeMethodS256) {
		return apperrors.NewDiscoveryError("provider does not support S256 code challenges")
	}
	return nil
}

// validateIssuerURL requires an absolute https URL without query or fragment.
// Plain http is accepted only for loopback hosts.
func validateIssuerURL(issuer string) error {
	u, err := url.Parse(issuer)
	if err != nil {
		return apperrors.Wrap(err, apperrors.DiscoveryError, "invalid issuer URL")
	}
	if u.Host == "" || u.RawQuery != "" || u.Fragment != "" {
		return apperrors.NewDiscoveryError("invalid issuer URL").WithDetails(issuer)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopbackHost(u.Hostname()) {
			return nil
		}
	}
	return apperrors.NewDiscoveryError("issuer must use https").WithDetails(issuer)
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
