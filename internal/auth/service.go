package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/backend"
	"github.com/ispdesk/portal/internal/shared"
)

// Backend is the subset of the backend client used for authentication.
type Backend interface {
	ProfileSource
	Login(ctx context.Context, creds backend.Credentials) (*backend.LoginResult, error)
	Logout(ctx context.Context, cookies []*http.Cookie) error
}

// ClientInfo describes the browser signing in, for the audit trail.
type ClientInfo struct {
	SessionID string
	IP        string
	UserAgent string
}

// Service wraps the authentication flows against the backend.
type Service struct {
	backend  Backend
	profiles *ProfileLoader
	audit    Auditor
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. audit may be nil.
func NewService(b Backend, profiles *ProfileLoader, audit Auditor, logger *slog.Logger) *Service {
	if audit == nil {
		audit = nopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: b, profiles: profiles, audit: audit, logger: logger, now: time.Now}
}

// Session is the outcome of a successful sign-in.
type Session struct {
	Cookies []*http.Cookie
	User    *ability.User
}

// Authenticate signs in against the backend and resolves the profile with
// the freshly issued cookies.
func (s *Service) Authenticate(ctx context.Context, email, password string, info ClientInfo) (*Session, error) {
	res, err := s.backend.Login(ctx, backend.Credentials{Email: strings.TrimSpace(email), Password: password})
	if err != nil {
		if isCredentialError(err) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	user, err := s.profiles.Load(ctx, res.Cookies)
	if err != nil {
		return nil, err
	}

	if info.SessionID != "" {
		rec := SessionRecord{
			ID:        info.SessionID,
			UserID:    user.ID,
			Email:     user.Email,
			OpenedAt:  s.now().UTC(),
			IP:        info.IP,
			UserAgent: info.UserAgent,
		}
		if err := s.audit.SessionOpened(ctx, rec); err != nil {
			s.logger.Warn("audit session open", slog.Any("error", err))
		}
	}
	return &Session{Cookies: res.Cookies, User: user}, nil
}

// Logout ends the backend session. Backend failures are logged; the portal
// clears its side regardless.
func (s *Service) Logout(ctx context.Context, cookies []*http.Cookie, sessionID string) {
	s.profiles.Invalidate(cookies)
	if len(cookies) > 0 {
		if err := s.backend.Logout(ctx, cookies); err != nil && !errors.Is(err, backend.ErrUnauthorized) {
			s.logger.Warn("backend logout", slog.Any("error", err))
		}
	}
	if sessionID != "" {
		if err := s.audit.SessionClosed(ctx, sessionID, s.now().UTC()); err != nil {
			s.logger.Warn("audit session close", slog.Any("error", err))
		}
	}
}

// Lock drops the cached profile so the unlock path re-resolves it.
func (s *Service) Lock(cookies []*http.Cookie) {
	s.profiles.Invalidate(cookies)
}

// Unlock re-authenticates email with password and returns the new cookies.
func (s *Service) Unlock(ctx context.Context, email, password string) ([]*http.Cookie, error) {
	if strings.TrimSpace(email) == "" {
		return nil, backend.ErrUnauthorized
	}
	res, err := s.backend.Login(ctx, backend.Credentials{Email: strings.TrimSpace(email), Password: password})
	if err != nil {
		if isCredentialError(err) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	return res.Cookies, nil
}

// Profile returns the cached profile for cookies.
func (s *Service) Profile(ctx context.Context, cookies []*http.Cookie) (*ability.User, error) {
	return s.profiles.Load(ctx, cookies)
}

func isCredentialError(err error) bool {
	return errors.Is(err, backend.ErrUnauthorized) || errors.Is(err, backend.ErrValidation) || errors.Is(err, backend.ErrNotFound)
}
