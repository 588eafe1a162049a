package auth

import (
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/naotama2002/oidc-login-go/internal/logging"
)

// Registry correlates redirect callbacks with pending sessions by their state
// value. At most one session is pending per logical attempt (issuer,
// client_id, redirect_uri); beginning a new one cancels the previous one.
// Sessions remove themselves when they leave Pending, so late or duplicate
// callbacks find nothing.
type Registry struct {
	logger  zerolog.Logger
	timeout time.Duration

	mu        sync.Mutex
	byState   map[string]*Session
	byAttempt map[string]*Session
}

// NewRegistry creates an empty registry. WithSessionTimeout sets the deadline
// given to sessions it begins.
func NewRegistry(opts ...Option) *Registry {
	o := applyOptions(opts)
	return &Registry{
		logger:    logging.Component(o.logger, "registry"),
		timeout:   o.sessionTimeout,
		byState:   make(map[string]*Session),
		byAttempt: make(map[string]*Session),
	}
}

// Begin registers a new pending session for state and supersedes any pending
// session of the same logical attempt.
func (r *Registry) Begin(state *AuthorizationState) *Session {
	return r.begin(state, r.timeout)
}

func (r *Registry) begin(state *AuthorizationState, timeout time.Duration) *Session {
	key := state.attemptKey()

	r.mu.Lock()
	prior := r.byAttempt[key]
	s := newSession(state, timeout, r.logger, r.remove)
	r.byState[state.State] = s
	r.byAttempt[key] = s
	r.mu.Unlock()

	if prior != nil {
		if err := prior.cancel(CodeSuperseded, "authorization superseded by a newer attempt"); err == nil {
			r.logger.Info().
				Str("superseded", prior.State().ID).
				Str(logging.FieldAttempt, state.ID).
				Msg("Pending authorization superseded")
		}
	}
	return s
}

// Deliver routes a redirect URI to the pending session named by its state
// parameter. It returns ErrUnknownState when nothing is pending for that
// state, otherwise the session's own Deliver result.
func (r *Registry) Deliver(redirectURI string) error {
	u, err := url.Parse(redirectURI)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Ignoring malformed redirect")
		return ErrUnknownState
	}

	s := r.lookup(u.Query().Get("state"))
	if s == nil {
		r.logger.Warn().Msg("Ignoring redirect with unknown state")
		return ErrUnknownState
	}
	return s.Deliver(redirectURI)
}

// Cancel cancels the pending session registered under state.
func (r *Registry) Cancel(state string) error {
	s := r.lookup(state)
	if s == nil {
		return ErrUnknownState
	}
	return s.Cancel()
}

// Pending returns the number of sessions awaiting a redirect.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byState)
}

func (r *Registry) lookup(state string) *Session {
	if state == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byState[state]
}

func (r *Registry) remove(s *Session) {
	state := s.State()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byState[state.State] == s {
		delete(r.byState, state.State)
	}
	if key := state.attemptKey(); r.byAttempt[key] == s {
		delete(r.byAttempt, key)
	}
}
