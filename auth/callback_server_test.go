package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/naotama2002/oidc-login-go/internal/errors"
)

type recordingHandler struct {
	uris []string
	err  error
}

func (h *recordingHandler) HandleRedirect(uri string) error {
	h.uris = append(h.uris, uri)
	return h.err
}

func TestLoopbackReceiverResponses(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		contains string
	}{
		{"success", nil, http.StatusOK, "Authorization Successful!"},
		{"unknown state", ErrUnknownState, http.StatusBadRequest, "Authorization Expired"},
		{"closed session", ErrSessionClosed, http.StatusBadRequest, "Authorization Expired"},
		{"provider error", apperrors.NewAuthorizationError("provider returned an error").WithCode("access_denied"), http.StatusBadRequest, "access_denied"},
		{"escaped", apperrors.NewAuthorizationError("<script>").WithCode("x"), http.StatusBadRequest, "&lt;script&gt;"},
		{"opaque", errors.New("boom"), http.StatusBadRequest, "Authorization Failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{err: tt.err}
			r := NewLoopbackReceiver(0, "", h, zerolog.Nop())

			req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:9999/callback?code=abc&state=xyz", nil)
			rec := httptest.NewRecorder()
			r.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			require.Len(t, h.uris, 1)
			assert.Equal(t, "http://127.0.0.1:9999/callback?code=abc&state=xyz", h.uris[0])
		})
	}
}

func TestLoopbackReceiverRoutes(t *testing.T) {
	h := &recordingHandler{}
	r := NewLoopbackReceiver(0, "/oauth/callback", h, zerolog.Nop())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth/callback", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Empty(t, h.uris)
}

func TestLoopbackReceiverStartAndShutdown(t *testing.T) {
	h := &recordingHandler{}
	r := NewLoopbackReceiver(0, DefaultCallbackPath, h, zerolog.Nop())
	assert.Empty(t, r.RedirectURI())

	redirectURI, err := r.Start()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(redirectURI, "http://127.0.0.1:"))
	assert.True(t, strings.HasSuffix(redirectURI, "/callback"))
	assert.Equal(t, redirectURI, r.RedirectURI())
	require.NoError(t, ValidateRedirectURI(redirectURI))

	resp, err := http.Get(redirectURI + "?code=abc&state=xyz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Authorization Successful!")
	require.Len(t, h.uris, 1)
	assert.Equal(t, redirectURI+"?code=abc&state=xyz", h.uris[0])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	_, err = http.Get(redirectURI)
	assert.Error(t, err)
}

func TestLoopbackReceiverWithFlow(t *testing.T) {
	p := newTestProvider(t)
	var flow *Flow
	var receiver *LoopbackReceiver
	flow = NewFlow(
		WithIDTokenVerifierFactory(staticVerifierFactory(p)),
		WithUserAgent(UserAgentFunc(func(ctx context.Context, pc PresentationContext, u string, dismiss func()) error {
			redirect := p.authorize(u, receiver.RedirectURI())
			go func() {
				resp, err := http.Get(redirect)
				if err == nil {
					_ = resp.Body.Close()
				}
			}()
			return nil
		})),
	)
	receiver = NewLoopbackReceiver(0, DefaultCallbackPath, flow, zerolog.Nop())
	redirectURI, err := receiver.Start()
	require.NoError(t, err)
	defer func() { _ = receiver.Shutdown(context.Background()) }()

	req := testRequest(p)
	req.RedirectURI = redirectURI
	tokens, err := flow.Authenticate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "access-token", tokens.AccessToken)
}
