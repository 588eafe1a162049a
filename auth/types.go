package auth

import (
	"time"
)

// ProviderMetadata holds the subset of an OpenID Provider discovery document
// that the authorization code flow needs. It is immutable once resolved.
type ProviderMetadata struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserInfoEndpoint                 string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                          string   `json:"jwks_uri,omitempty"`
	ScopesSupported                  []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported           []string `json:"response_types_supported,omitempty"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// PKCEPair is a code verifier and its derived challenge (RFC 7636).
type PKCEPair struct {
	Verifier  string
	Challenge string
	Method    string
}

// AuthorizationState is everything needed to correlate a redirect with the
// request that caused it and to redeem the returned code.
type AuthorizationState struct {
	// ID identifies the attempt in logs; it never leaves the process.
	ID          string
	State       string
	Nonce       string
	PKCE        PKCEPair
	Issuer      string
	ClientID    string
	RedirectURI string
	Scopes      []string
	CreatedAt   time.Time
}

// attemptKey identifies a logical authorization attempt. A newer attempt with
// the same key supersedes an older pending one.
func (s *AuthorizationState) attemptKey() string {
	return s.Issuer + "\x00" + s.ClientID + "\x00" + s.RedirectURI
}

// AuthorizationResult is the successful outcome of a redirect callback.
type AuthorizationResult struct {
	Code  string
	State string
	// Issuer is the RFC 9207 "iss" response parameter, nil when the provider did not send one.
	Issuer *string
}

// TokenSet is the terminal artifact of a successful flow. Optional values are
// nil when the provider did not return them.
type TokenSet struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type,omitempty"`
	RefreshToken *string    `json:"refresh_token,omitempty"`
	IDToken      *IDToken   `json:"id_token,omitempty"`
	Expiry       *time.Time `json:"expiry,omitempty"`
	Scope        *string    `json:"scope,omitempty"`
}

// IDToken is a verified OpenID Connect ID token.
type IDToken struct {
	Raw      string         `json:"raw"`
	Issuer   string         `json:"iss"`
	Subject  string         `json:"sub"`
	Audience []string       `json:"aud"`
	Expiry   time.Time      `json:"exp"`
	IssuedAt time.Time      `json:"iat"`
	Nonce    string         `json:"nonce,omitempty"`
	Claims   map[string]any `json:"claims,omitempty"`
}

// PresentationContext is an opaque handle supplied by the caller and passed
// untouched to the UserAgent (for example the window a native UI should
// present over). The flow never inspects it.
type PresentationContext any
