package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/naotama2002/oidc-login-go/internal/errors"
	"github.com/naotama2002/oidc-login-go/internal/logging"
	"github.com/naotama2002/oidc-login-go/internal/metrics"
)

// SessionStatus is the lifecycle position of an authorization session.
type SessionStatus int

const (
	// StatusPending means the request was issued and the redirect has not arrived.
	StatusPending SessionStatus = iota
	// StatusCompleted means a matching redirect delivered an authorization code.
	StatusCompleted
	// StatusFailed means the redirect was rejected.
	StatusFailed
	// StatusCancelled means the attempt was dismissed or superseded before a redirect arrived.
	StatusCancelled
	// StatusTimedOut means no redirect arrived before the deadline.
	StatusTimedOut
)

func (s SessionStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s != StatusPending
}

// Session owns one pending authorization attempt. Exactly one transition out
// of Pending happens; every later callback, cancel or timeout is ignored.
type Session struct {
	state  *AuthorizationState
	logger zerolog.Logger

	mu       sync.Mutex
	status   SessionStatus
	result   *AuthorizationResult
	err      error
	consumed bool
	done     chan struct{}
	timer    *time.Timer

	releaseOnce sync.Once
	onRelease   func(*Session)
}

// NewSession starts a Pending session for state. It times out after the
// configured session timeout (WithSessionTimeout).
func NewSession(state *AuthorizationState, opts ...Option) *Session {
	o := applyOptions(opts)
	return newSession(state, o.sessionTimeout, o.logger, nil)
}

func newSession(state *AuthorizationState, timeout time.Duration, logger zerolog.Logger, onRelease func(*Session)) *Session {
	s := &Session{
		state:     state,
		logger:    logging.Component(logger, "session").With().Str(logging.FieldAttempt, state.ID).Logger(),
		status:    StatusPending,
		done:      make(chan struct{}),
		onRelease: onRelease,
	}
	metrics.SessionsPending.Inc()
	s.mu.Lock()
	s.timer = time.AfterFunc(timeout, s.expire)
	s.mu.Unlock()
	s.logger.Debug().Dur("timeout", timeout).Msg("Authorization session pending")
	return s
}

// State returns the authorization state this session correlates against.
func (s *Session) State() *AuthorizationState {
	return s.state
}

// Status returns the current lifecycle status.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed when the session leaves Pending.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Deliver resolves the session from a redirect URI. The state parameter is
// checked before anything else; a mismatch fails the session closed. It
// returns nil when the session completed, the failure otherwise, and
// ErrSessionClosed when the session had already left Pending.
func (s *Session) Deliver(redirectURI string) error {
	s.mu.Lock()
	if s.status.Terminal() {
		status := s.status
		s.mu.Unlock()
		s.logger.Debug().Str("status", status.String()).Msg("Ignoring callback for closed session")
		return ErrSessionClosed
	}

	result, err := s.parseRedirect(redirectURI)
	if err != nil {
		s.finishLocked(StatusFailed, nil, err)
	} else {
		s.finishLocked(StatusCompleted, result, nil)
	}
	s.mu.Unlock()

	s.release()
	return err
}

func (s *Session) parseRedirect(redirectURI string) (*AuthorizationResult, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.AuthorizationError, "malformed redirect URI").WithCode(CodeInvalidRequest)
	}
	q := u.Query()

	if subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(s.state.State)) != 1 {
		return nil, apperrors.NewAuthorizationError("state parameter does not match the request").WithCode(CodeStateMismatch)
	}

	if errCode := q.Get("error"); errCode != "" {
		return nil, apperrors.NewAuthorizationError("provider returned an error").
			WithCode(errCode).
			WithDetails(q.Get("error_description"))
	}

	result := &AuthorizationResult{State: q.Get("state")}
	if q.Has("iss") {
		iss := q.Get("iss")
		if iss != s.state.Issuer {
			return nil, apperrors.NewAuthorizationError("authorization response issuer does not match").
				WithCode(CodeIssuerMismatch).
				WithDetails(iss)
		}
		result.Issuer = &iss
	}

	result.Code = q.Get("code")
	if result.Code == "" {
		return nil, apperrors.NewAuthorizationError("authorization response has no code").WithCode(CodeMissingCode)
	}
	return result, nil
}

// Cancel moves a pending session to Cancelled, e.g. when the user dismissed the browser.
func (s *Session) Cancel() error {
	return s.cancel(CodeCancelled, "authorization cancelled")
}

func (s *Session) cancel(code, message string) error {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.finishLocked(StatusCancelled, nil, apperrors.NewAuthorizationError(message).WithCode(code))
	s.mu.Unlock()

	s.release()
	return nil
}

func (s *Session) expire() {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.finishLocked(StatusTimedOut, nil, apperrors.NewTimeoutError("no authorization callback before the deadline"))
	s.mu.Unlock()

	s.release()
}

// Wait suspends until the session is terminal and hands out its outcome once.
// Cancelling ctx cancels the session; a ctx deadline times it out.
func (s *Session) Wait(ctx context.Context) (*AuthorizationResult, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.expire()
		} else {
			_ = s.cancel(CodeCancelled, "authorization cancelled by caller")
		}
		<-s.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed {
		return nil, ErrResultConsumed
	}
	s.consumed = true
	return s.result, s.err
}

func (s *Session) finishLocked(status SessionStatus, result *AuthorizationResult, err error) {
	s.status = status
	s.result = result
	s.err = err
	s.timer.Stop()
	close(s.done)

	if err != nil {
		s.logger.Info().Err(err).Str("status", status.String()).Msg("Authorization session closed")
		return
	}
	s.logger.Debug().Str("status", status.String()).Msg("Authorization session closed")
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		metrics.SessionsPending.Dec()
		if s.onRelease != nil {
			s.onRelease(s)
		}
	})
}
