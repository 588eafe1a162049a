package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "test-client"
	testKeyID    = "test-key"
	testCode     = "auth-code-123"
)

// testProvider is an in-process OpenID Provider: discovery, token and JWKS
// endpoints backed by one httptest server.
type testProvider struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	discoveryHits atomic.Int32
	tokenHits     atomic.Int32

	mu sync.Mutex
	// metadata edits the discovery document before it is served.
	metadata func(doc map[string]any)
	// token replaces the default token endpoint.
	token http.HandlerFunc
	// challenge and nonce are captured from the authorization URL.
	challenge string
	nonce     string
	lastForm  url.Values
	idToken   bool
}

func newTestProvider(t *testing.T) *testProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &testProvider{t: t, key: key, idToken: true}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.serveDiscovery)
	mux.HandleFunc("/token", p.serveToken)
	mux.HandleFunc("/jwks", p.serveJWKS)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *testProvider) issuer() string {
	return p.server.URL
}

func (p *testProvider) document() map[string]any {
	doc := map[string]any{
		"issuer":                                p.issuer(),
		"authorization_endpoint":                p.issuer() + "/authorize",
		"token_endpoint":                        p.issuer() + "/token",
		"jwks_uri":                              p.issuer() + "/jwks",
		"response_types_supported":              []string{"code"},
		"code_challenge_methods_supported":      []string{"S256"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	p.mu.Lock()
	edit := p.metadata
	p.mu.Unlock()
	if edit != nil {
		edit(doc)
	}
	return doc
}

func (p *testProvider) serveDiscovery(w http.ResponseWriter, r *http.Request) {
	p.discoveryHits.Add(1)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p.document())
}

func (p *testProvider) serveJWKS(w http.ResponseWriter, r *http.Request) {
	pub := p.key.PublicKey
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKeyID,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (p *testProvider) serveToken(w http.ResponseWriter, r *http.Request) {
	p.tokenHits.Add(1)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.lastForm = r.PostForm
	handler := p.token
	challenge, nonce, withIDToken := p.challenge, p.nonce, p.idToken
	p.mu.Unlock()

	if handler != nil {
		handler(w, r)
		return
	}

	if r.PostForm.Get("code") != testCode || !VerifyCodeChallenge(r.PostForm.Get("code_verifier"), challenge) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code or verifier rejected"}`))
		return
	}

	resp := map[string]any{
		"access_token":  "access-token",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": "refresh-token",
		"scope":         "openid profile",
	}
	if withIDToken {
		resp["id_token"] = p.mintIDToken(nonce, nil)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// mintIDToken signs an RS256 id_token for testClientID. edit may override claims.
func (p *testProvider) mintIDToken(nonce string, edit func(jwt.MapClaims)) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   p.issuer(),
		"sub":   "user-1",
		"aud":   testClientID,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"nonce": nonce,
		"email": "user@example.com",
	}
	if edit != nil {
		edit(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	raw, err := token.SignedString(p.key)
	if err != nil {
		p.t.Errorf("sign id_token: %v", err)
	}
	return raw
}

// authorize records what the client sent to the authorization endpoint and
// returns the redirect the provider would issue.
func (p *testProvider) authorize(authorizationURL, redirectURI string) string {
	u, err := url.Parse(authorizationURL)
	require.NoError(p.t, err)
	q := u.Query()

	p.mu.Lock()
	p.challenge = q.Get("code_challenge")
	p.nonce = q.Get("nonce")
	p.mu.Unlock()

	cb, err := url.Parse(redirectURI)
	require.NoError(p.t, err)
	cq := cb.Query()
	cq.Set("code", testCode)
	cq.Set("state", q.Get("state"))
	cb.RawQuery = cq.Encode()
	return cb.String()
}

func (p *testProvider) form() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForm
}

func (p *testProvider) setMetadata(edit func(doc map[string]any)) {
	p.mu.Lock()
	p.metadata = edit
	p.mu.Unlock()
}

func (p *testProvider) setToken(h http.HandlerFunc) {
	p.mu.Lock()
	p.token = h
	p.mu.Unlock()
}

func (p *testProvider) setIDToken(on bool) {
	p.mu.Lock()
	p.idToken = on
	p.mu.Unlock()
}

func (p *testProvider) metadataValue() *ProviderMetadata {
	return &ProviderMetadata{
		Issuer:                           p.issuer(),
		AuthorizationEndpoint:            p.issuer() + "/authorize",
		TokenEndpoint:                    p.issuer() + "/token",
		JWKSURI:                          p.issuer() + "/jwks",
		ResponseTypesSupported:           []string{"code"},
		CodeChallengeMethodsSupported:    []string{"S256"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
	}
}

func newTestState(issuer string) *AuthorizationState {
	return &AuthorizationState{
		ID:          "attempt-1",
		State:       "state-abc",
		Nonce:       "nonce-xyz",
		PKCE:        NewPKCEPair(),
		Issuer:      issuer,
		ClientID:    testClientID,
		RedirectURI: "http://127.0.0.1:8085/callback",
		Scopes:      []string{ScopeOpenID},
		CreatedAt:   time.Now(),
	}
}

func requireErrorType(t *testing.T, err error, want ErrorType) *Error {
	t.Helper()
	require.Error(t, err)
	appErr, ok := AsError(err)
	require.Truef(t, ok, "expected *Error, got %T: %v", err, err)
	require.Equal(t, want, appErr.Type, "error: %v", err)
	return appErr
}
