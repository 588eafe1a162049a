package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/naotama2002/oidc-login-go/internal/logging"
)

// DefaultCallbackPath is where the loopback receiver expects the redirect.
const DefaultCallbackPath = "/callback"

// RedirectHandler accepts a full redirect URI from the host application. *Flow implements it.
type RedirectHandler interface {
	HandleRedirect(redirectURI string) error
}

// LoopbackReceiver is a short-lived HTTP server on 127.0.0.1 that receives
// the authorization redirect (RFC 8252 Section 7.3) and hands it to a
// RedirectHandler.
type LoopbackReceiver struct {
	port    int
	path    string
	handler RedirectHandler
	logger  zerolog.Logger

	engine      *gin.Engine
	server      *http.Server
	redirectURI *url.URL
}

// NewLoopbackReceiver creates a receiver. Port 0 picks an ephemeral port.
func NewLoopbackReceiver(port int, path string, handler RedirectHandler, logger zerolog.Logger) *LoopbackReceiver {
	if path == "" {
		path = DefaultCallbackPath
	}

	gin.SetMode(gin.ReleaseMode)
	r := &LoopbackReceiver{
		port:    port,
		path:    path,
		handler: handler,
		logger:  logging.Component(logger, "callback"),
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery(), noStore())
	engine.GET(path, r.handleCallback)
	r.engine = engine

	return r
}

// Start binds the listener and serves in the background. It returns the
// redirect URI to register with the authorization request.
func (r *LoopbackReceiver) Start() (string, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(r.port)))
	if err != nil {
		return "", fmt.Errorf("could not open callback listener: %w", err)
	}

	r.redirectURI = &url.URL{
		Scheme: "http",
		Host:   listener.Addr().String(),
		Path:   r.path,
	}
	r.server = &http.Server{
		Handler:           r.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		r.logger.Debug().Str("addr", listener.Addr().String()).Msg("Starting OAuth callback server")
		if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error().Err(err).Msg("OAuth callback server error")
		}
	}()

	return r.redirectURI.String(), nil
}

// RedirectURI returns the bound redirect URI, or "" before Start.
func (r *LoopbackReceiver) RedirectURI() string {
	if r.redirectURI == nil {
		return ""
	}
	return r.redirectURI.String()
}

// Handler exposes the routes, mainly for tests.
func (r *LoopbackReceiver) Handler() http.Handler {
	return r.engine
}

// Shutdown stops the server, letting in-flight responses finish.
func (r *LoopbackReceiver) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}

func (r *LoopbackReceiver) handleCallback(c *gin.Context) {
	redirect := r.fullRedirectURI(c.Request)

	err := r.handler.HandleRedirect(redirect)
	switch {
	case err == nil:
		renderPage(c, http.StatusOK, "Authorization Successful!",
			"You can now close this window and return to the application.")
	case errors.Is(err, ErrUnknownState), errors.Is(err, ErrSessionClosed):
		renderPage(c, http.StatusBadRequest, "Authorization Expired",
			"This authorization request is unknown or already finished. Start the login again.")
	default:
		msg := "The authorization request failed."
		if appErr, ok := AsError(err); ok {
			msg = appErr.Message
			if appErr.Code != "" {
				msg = fmt.Sprintf("%s (%s)", msg, appErr.Code)
			}
		}
		renderPage(c, http.StatusBadRequest, "Authorization Failed", msg)
	}
}

// fullRedirectURI rebuilds the URI the provider redirected to from the bound
// base and the received query.
func (r *LoopbackReceiver) fullRedirectURI(req *http.Request) string {
	var u url.URL
	if r.redirectURI != nil {
		u = *r.redirectURI
	} else {
		u = url.URL{Scheme: "http", Host: req.Host, Path: r.path}
	}
	u.RawQuery = req.URL.RawQuery
	return u.String()
}

func noStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

func renderPage(c *gin.Context, status int, title, message string) {
	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<title>%[1]s</title>
	<style>
		body { font-family: Arial, sans-serif; text-align: center; padding: 50px; }
		.container { max-width: 600px; margin: 0 auto; }
	</style>
</head>
<body>
	<div class="container">
		<h1>%[1]s</h1>
		<p>%[2]s</p>
	</div>
</body>
</html>
`, html.EscapeString(title), html.EscapeString(message))
	c.Data(status, "text/html; charset=utf-8", []byte(page))
}
