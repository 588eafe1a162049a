package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	apperrors "github.com/naotama2002/oidc-login-go/internal/errors"
	"github.com/naotama2002/oidc-login-go/internal/httpclient"
	"github.com/naotama2002/oidc-login-go/internal/logging"
	"github.com/naotama2002/oidc-login-go/internal/metrics"
)

// TokenExchanger redeems authorization codes at the token endpoint.
type TokenExchanger struct {
	client          *httpclient.Client
	logger          zerolog.Logger
	verifierFactory IDTokenVerifierFactory
}

// NewTokenExchanger creates a token exchange client. Without
// WithIDTokenVerifierFactory, id_tokens are verified against the provider JWKS.
func NewTokenExchanger(opts ...Option) *TokenExchanger {
	o := applyOptions(opts)
	factory := o.verifierFactory
	if factory == nil {
		factory = JWKSVerifierFactory(o.httpClient.HTTPClient())
	}
	return &TokenExchanger{
		client:          o.httpClient,
		logger:          logging.Component(o.logger, "exchange"),
		verifierFactory: factory,
	}
}

// Exchange performs a single authorization_code grant with the PKCE verifier
// and verifies the id_token when one is returned.
func (e *TokenExchanger) Exchange(ctx context.Context, meta *ProviderMetadata, state *AuthorizationState, result *AuthorizationResult) (*TokenSet, error) {
	logger := e.logger.With().Str(logging.FieldAttempt, state.ID).Logger()

	cfg := oauth2.Config{
		ClientID:    state.ClientID,
		RedirectURL: state.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   meta.AuthorizationEndpoint,
			TokenURL:  meta.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client.HTTPClient())

	start := time.Now()
	token, err := cfg.Exchange(ctx, result.Code, oauth2.VerifierOption(state.PKCE.Verifier))
	metrics.TokenExchangeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Warn().Err(err).Msg("Token exchange failed")
		return nil, tokenError(err)
	}

	tokens := &TokenSet{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: optionalString(token.RefreshToken),
		Scope:        extraString(token, "scope"),
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		tokens.Expiry = &expiry
	}

	if rawIDToken := extraString(token, "id_token"); rawIDToken != nil {
		idToken, err := e.verifyIDToken(ctx, meta, state, *rawIDToken)
		if err != nil {
			logger.Warn().Err(err).Msg("id_token rejected")
			return nil, err
		}
		tokens.IDToken = idToken
	} else {
		logger.Warn().Msg("Token response has no id_token")
	}

	logger.Debug().
		Bool("refresh_token", tokens.RefreshToken != nil).
		Bool("id_token", tokens.IDToken != nil).
		Msg("Token exchange succeeded")
	return tokens, nil
}

func (e *TokenExchanger) verifyIDToken(ctx context.Context, meta *ProviderMetadata, state *AuthorizationState, raw string) (*IDToken, error) {
	verifier, err := e.verifierFactory(meta, state.ClientID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TokenExchangeError, "cannot verify id_token")
	}

	idToken, err := verifier.Verify(ctx, raw)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TokenExchangeError, "id_token verification failed").WithCode("invalid_id_token")
	}

	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(state.Nonce)) != 1 {
		return nil, apperrors.NewTokenExchangeError("id_token nonce does not match the request").WithCode("nonce_mismatch")
	}
	return idToken, nil
}

func tokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		appErr := apperrors.Wrap(err, apperrors.TokenExchangeError, "token endpoint rejected the request").
			WithCode(retrieveErr.ErrorCode).
			WithDetails(retrieveErr.ErrorDescription)
		if retrieveErr.Response != nil {
			appErr = appErr.WithStatusCode(retrieveErr.Response.StatusCode)
		}
		return appErr
	}
	return apperrors.Wrap(err, apperrors.TokenExchangeError, "token request failed")
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// extraString reads an optional string member of the token response. Empty
// values count as absent since the token endpoint either sends a value or omits the member.
func extraString(token *oauth2.Token, key string) *string {
	s, ok := token.Extra(key).(string)
	if !ok {
		return nil
	}
	return optionalString(s)
}
