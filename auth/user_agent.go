package auth

import (
	"context"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/naotama2002/oidc-login-go/internal/logging"
)

// UserAgent presents the authorization URL to the user. Implementations that
// can observe the user closing the agent without completing call dismiss; it
// is safe to call more than once.
type UserAgent interface {
	Present(ctx context.Context, pc PresentationContext, authorizationURL string, dismiss func()) error
}

// UserAgentFunc adapts a function to UserAgent.
type UserAgentFunc func(ctx context.Context, pc PresentationContext, authorizationURL string, dismiss func()) error

func (f UserAgentFunc) Present(ctx context.Context, pc PresentationContext, authorizationURL string, dismiss func()) error {
	return f(ctx, pc, authorizationURL, dismiss)
}

// BrowserUserAgent opens the system browser. It cannot observe the browser
// being closed, so it never dismisses; the session timeout covers that case.
type BrowserUserAgent struct {
	logger  zerolog.Logger
	openURL func(string) error
}

// NewBrowserUserAgent creates a user agent backed by the system browser.
func NewBrowserUserAgent(logger zerolog.Logger) *BrowserUserAgent {
	return &BrowserUserAgent{
		logger:  logging.Component(logger, "browser"),
		openURL: browser.OpenURL,
	}
}

// Present opens the URL, falling back to asking the user to open it manually.
func (b *BrowserUserAgent) Present(_ context.Context, _ PresentationContext, authorizationURL string, _ func()) error {
	b.logger.Info().Str("url", authorizationURL).Msg("Please authorize this client by visiting the URL")

	if err := b.openURL(authorizationURL); err != nil {
		b.logger.Warn().Err(err).Msg("Could not open browser automatically. Please copy and paste the URL above into your browser.")
		return nil
	}

	b.logger.Info().Msg("Browser opened automatically.")
	return nil
}

// ManualUserAgent only prints the URL, for headless environments.
type ManualUserAgent struct {
	logger zerolog.Logger
}

// NewManualUserAgent creates a user agent that asks the user to open the URL.
func NewManualUserAgent(logger zerolog.Logger) *ManualUserAgent {
	return &ManualUserAgent{logger: logging.Component(logger, "browser")}
}

func (m *ManualUserAgent) Present(_ context.Context, _ PresentationContext, authorizationURL string, _ func()) error {
	m.logger.Info().Str("url", authorizationURL).Msg("Open the URL in a browser to continue")
	return nil
}
