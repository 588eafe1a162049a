package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	apperrors "github.com/naotama2002/oidc-login-go/internal/errors"
	"github.com/naotama2002/oidc-login-go/internal/logging"
	"github.com/naotama2002/oidc-login-go/internal/metrics"
)

// AuthenticateRequest describes one login.
type AuthenticateRequest struct {
	Issuer      string
	ClientID    string
	RedirectURI string
	Scopes      []string
	// ExtraParams are appended to the authorization URL.
	ExtraParams map[string]string
	// Presentation is passed untouched to the UserAgent.
	Presentation PresentationContext
}

// Flow runs the authorization code + PKCE flow end to end.
type Flow struct {
	resolver  *Resolver
	registry  *Registry
	exchanger *TokenExchanger
	userAgent UserAgent
	logger    zerolog.Logger
}

// NewFlow wires the resolver, registry, token exchanger and user agent. The
// default user agent is the system browser.
func NewFlow(opts ...Option) *Flow {
	o := applyOptions(opts)

	resolver := o.resolver
	if resolver == nil {
		resolver = NewResolver(opts...)
	}
	registry := o.registry
	if registry == nil {
		registry = NewRegistry(opts...)
	}
	userAgent := o.userAgent
	if userAgent == nil {
		userAgent = NewBrowserUserAgent(o.logger)
	}

	return &Flow{
		resolver:  resolver,
		registry:  registry,
		exchanger: NewTokenExchanger(opts...),
		userAgent: userAgent,
		logger:    logging.Component(o.logger, "flow"),
	}
}

// Authenticate discovers the provider, presents the authorization request,
// waits for the redirect and exchanges the code. It returns the first error
// as an *Error; nothing is retried. Cancelling ctx cancels the pending
// session and a ctx deadline times it out.
func (f *Flow) Authenticate(ctx context.Context, req AuthenticateRequest) (tokens *TokenSet, err error) {
	defer func() {
		metrics.AttemptsTotal.WithLabelValues(outcome(err)).Inc()
	}()

	metadata, err := f.resolver.Resolve(ctx, req.Issuer)
	if err != nil {
		return nil, contextError(ctx, err)
	}

	authReq, err := BuildAuthorizationRequest(metadata, ClientConfig{
		ClientID:    req.ClientID,
		RedirectURI: req.RedirectURI,
		Scopes:      req.Scopes,
		ExtraParams: req.ExtraParams,
	}, NewPKCEPair())
	if err != nil {
		return nil, err
	}
	state := authReq.State

	logger := f.logger.With().Str(logging.FieldAttempt, state.ID).Logger()
	logger.Info().
		Str("issuer", state.Issuer).
		Str("client_id", state.ClientID).
		Strs("scopes", state.Scopes).
		Msg("Starting authorization")

	session := f.registry.Begin(state)
	// No-op once the session is terminal; releases it on early returns.
	defer func() { _ = session.Cancel() }()

	dismiss := func() { _ = session.Cancel() }
	if err := f.userAgent.Present(ctx, req.Presentation, authReq.URL, dismiss); err != nil {
		return nil, apperrors.Wrap(err, apperrors.AuthorizationError, "user agent could not present the authorization request")
	}

	result, err := session.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, contextError(ctx, ctx.Err())
	}

	tokens, err = f.exchanger.Exchange(ctx, metadata, state, result)
	if err != nil {
		return nil, contextError(ctx, err)
	}

	logger.Info().Msg("Authorization completed")
	return tokens, nil
}

// HandleRedirect delivers a redirect URI received by the host application.
// It returns ErrUnknownState for callbacks that match no pending attempt.
// Such a callback is rejected without touching any session: anyone can hit
// the redirect URI, so a forged state must not fail the real attempt, which
// keeps waiting for its own redirect.
func (f *Flow) HandleRedirect(redirectURI string) error {
	return f.registry.Deliver(redirectURI)
}

// CancelPending cancels the pending attempt identified by its state value.
func (f *Flow) CancelPending(state string) error {
	return f.registry.Cancel(state)
}

// Registry exposes the session registry, e.g. to share it with another Flow.
func (f *Flow) Registry() *Registry {
	return f.registry
}

// contextError reclassifies failures caused by ctx ending.
func contextError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.TimeoutError, "authentication deadline exceeded")
	case errors.Is(ctx.Err(), context.Canceled):
		return apperrors.Wrap(err, apperrors.AuthorizationError, "authorization cancelled by caller").WithCode(CodeCancelled)
	default:
		return err
	}
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	appErr, ok := AsError(err)
	if !ok {
		return metrics.OutcomeUnknown
	}
	switch appErr.Type {
	case DiscoveryError:
		return metrics.OutcomeDiscoveryError
	case ConfigError:
		return metrics.OutcomeConfigError
	case AuthorizationError:
		return metrics.OutcomeAuthorizationError
	case TokenExchangeError:
		return metrics.OutcomeTokenExchangeError
	case TimeoutError:
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeUnknown
	}
}
