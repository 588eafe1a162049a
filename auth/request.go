package auth

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	apperrors "github.com/naotama2002/oidc-login-go/internal/errors"
)

// ScopeOpenID is always requested.
const ScopeOpenID = "openid"

// stateBytes of entropy back both the state and nonce values.
const stateBytes = 32

// reservedAuthParams are set by the builder and cannot be overridden through ExtraParams.
var reservedAuthParams = []string{
	"response_type", "client_id", "redirect_uri", "scope", "state",
	"nonce", "code_challenge", "code_challenge_method",
}

// ClientConfig describes the public client requesting authorization.
type ClientConfig struct {
	ClientID    string
	RedirectURI string
	Scopes      []string
	// ExtraParams are appended to the authorization URL (e.g. prompt, login_hint).
	ExtraParams map[string]string
}

// AuthorizationRequest is a fully formed authorization URL and the state to register for it.
type AuthorizationRequest struct {
	URL   string
	State *AuthorizationState
}

// BuildAuthorizationRequest constructs the authorization URL and binds a
// fresh state and nonce to it. openid is added to the scopes if missing.
func BuildAuthorizationRequest(meta *ProviderMetadata, client ClientConfig, pkce PKCEPair) (*AuthorizationRequest, error) {
	if meta == nil {
		return nil, apperrors.NewConfigError("provider metadata is required")
	}
	if strings.TrimSpace(client.ClientID) == "" {
		return nil, apperrors.NewConfigError("client_id is required")
	}
	if err := ValidateRedirectURI(client.RedirectURI); err != nil {
		return nil, err
	}
	for key := range client.ExtraParams {
		if slices.Contains(reservedAuthParams, key) {
			return nil, apperrors.NewConfigError("extra authorization parameter overrides a reserved parameter").WithDetails(key)
		}
	}

	state, err := randomURLSafe(stateBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := randomURLSafe(stateBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	scopes := normalizeScopes(client.Scopes)
	cfg := oauth2.Config{
		ClientID:    client.ClientID,
		RedirectURL: client.RedirectURI,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   meta.AuthorizationEndpoint,
			TokenURL:  meta.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("code_challenge", pkce.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", CodeChallengeMethodS256),
	}
	for key, value := range client.ExtraParams {
		opts = append(opts, oauth2.SetAuthURLParam(key, value))
	}

	return &AuthorizationRequest{
		URL: cfg.AuthCodeURL(state, opts...),
		State: &AuthorizationState{
			ID:          uuid.NewString(),
			State:       state,
			Nonce:       nonce,
			PKCE:        pkce,
			Issuer:      meta.Issuer,
			ClientID:    client.ClientID,
			RedirectURI: client.RedirectURI,
			Scopes:      scopes,
			CreatedAt:   time.Now(),
		},
	}, nil
}

// ValidateRedirectURI accepts absolute URIs without fragments: https, http on a
// loopback host (RFC 8252 Section 7.3), or a private-use scheme such as
// com.example.app:/callback.
func ValidateRedirectURI(redirectURI string) error {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ConfigError, "invalid redirect_uri")
	}
	if !u.IsAbs() {
		return apperrors.NewConfigError("redirect_uri must be an absolute URI").WithDetails(redirectURI)
	}
	if u.Fragment != "" {
		return apperrors.NewConfigError("redirect_uri must not contain a fragment").WithDetails(redirectURI)
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
		if u.Host == "" {
			return apperrors.NewConfigError("redirect_uri has no host").WithDetails(redirectURI)
		}
	case "http":
		if !isLoopbackHost(u.Hostname()) {
			return apperrors.NewConfigError("http redirect_uri must use a loopback host").WithDetails(redirectURI)
		}
	case "javascript", "data", "file":
		return apperrors.NewConfigError("redirect_uri scheme is not allowed").WithDetails(u.Scheme)
	default:
		if u.Host == "" && u.Path == "" && u.Opaque == "" {
			return apperrors.NewConfigError("redirect_uri has no path").WithDetails(redirectURI)
		}
	}
	return nil
}

// normalizeScopes puts openid first and removes empty and duplicate entries.
func normalizeScopes(scopes []string) []string {
	out := []string{ScopeOpenID}
	for _, s := range scopes {
		for _, field := range strings.Fields(s) {
			if !slices.Contains(out, field) {
				out = append(out, field)
			}
		}
	}
	return out
}
