package auth

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
)

// IDTokenVerifier checks an id_token's signature, issuer, audience and expiry.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*IDToken, error)
}

// IDTokenVerifierFactory builds a verifier for tokens a provider issues to clientID.
type IDTokenVerifierFactory func(meta *ProviderMetadata, clientID string) (IDTokenVerifier, error)

// NewIDTokenVerifier adapts a go-oidc verifier.
func NewIDTokenVerifier(v *oidc.IDTokenVerifier) IDTokenVerifier {
	return &oidcVerifier{verifier: v}
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v *oidcVerifier) Verify(ctx context.Context, rawIDToken string) (*IDToken, error) {
	token, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode id_token claims: %w", err)
	}

	return &IDToken{
		Raw:      rawIDToken,
		Issuer:   token.Issuer,
		Subject:  token.Subject,
		Audience: token.Audience,
		Expiry:   token.Expiry,
		IssuedAt: token.IssuedAt,
		Nonce:    token.Nonce,
		Claims:   claims,
	}, nil
}

// JWKSVerifierFactory verifies id_tokens against the provider's jwks_uri.
// Remote key sets are shared per jwks_uri and fetched with hc.
func JWKSVerifierFactory(hc *http.Client) IDTokenVerifierFactory {
	var (
		mu      sync.Mutex
		keySets = make(map[string]oidc.KeySet)
	)
	keyCtx := oidc.ClientContext(context.Background(), hc)

	return func(meta *ProviderMetadata, clientID string) (IDTokenVerifier, error) {
		if meta.JWKSURI == "" {
			return nil, fmt.Errorf("provider %s has no jwks_uri", meta.Issuer)
		}

		mu.Lock()
		keySet, ok := keySets[meta.JWKSURI]
		if !ok {
			keySet = oidc.NewRemoteKeySet(keyCtx, meta.JWKSURI)
			keySets[meta.JWKSURI] = keySet
		}
		mu.Unlock()

		return NewIDTokenVerifier(oidc.NewVerifier(meta.Issuer, keySet, &oidc.Config{
			ClientID:             clientID,
			SupportedSigningAlgs: signingAlgs(meta.IDTokenSigningAlgValuesSupported),
		})), nil
	}
}

// signingAlgs keeps the asymmetric algorithms a provider advertises. An empty
// result lets go-oidc fall back to RS256.
func signingAlgs(advertised []string) []string {
	var algs []string
	for _, alg := range advertised {
		if alg == "none" || strings.HasPrefix(alg, "HS") {
			continue
		}
		if !slices.Contains(algs, alg) {
			algs = append(algs, alg)
		}
	}
	return algs
}
