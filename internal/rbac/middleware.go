package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/backend"
	"github.com/ispdesk/portal/internal/routegate"
	"github.com/ispdesk/portal/internal/shared"
)

// ProfileLoader resolves the backend profile for the forwarded cookies.
type ProfileLoader interface {
	Load(ctx context.Context, cookies []*http.Cookie) (*ability.User, error)
}

// Middleware wires ability helpers for HTTP handlers.
type Middleware struct {
	Profiles ProfileLoader
	Options  ability.Options
	Logger   *slog.Logger
	// Secure marks cleared cookies Secure.
	Secure bool
}

// Load resolves the profile of authenticated requests and attaches the
// ability built from it. Anonymous requests get a deny-all ability.
func (m Middleware) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies := backend.ForwardedCookies(r)
		if len(cookies) == 0 || m.Profiles == nil {
			next.ServeHTTP(w, r.WithContext(ContextWithAbility(r.Context(), ability.Build(nil))))
			return
		}

		user, err := m.Profiles.Load(r.Context(), cookies)
		if err != nil {
			if errors.Is(err, backend.ErrUnauthorized) {
				ClearSessionCookies(w, m.Secure)
				if !signInPath(r.URL.Path) {
					http.Redirect(w, r, routegate.LoginPath, http.StatusSeeOther)
					return
				}
				// Stale cookies on the sign-in form itself: continue anonymous.
				next.ServeHTTP(w, r.WithContext(ContextWithAbility(r.Context(), ability.Build(nil))))
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("rbac load profile", slog.Any("error", err))
			}
			shared.AddFlash(r.Context(), shared.FlashError, backend.Message(err))
			user = nil
		}

		ctx := ContextWithUser(r.Context(), user)
		ctx = ContextWithAbility(ctx, ability.BuildWithOptions(user, m.Options))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func signInPath(path string) bool {
	return path == routegate.LoginPath || path == "/auth/login"
}

// Require redirects to the landing page when the request ability lacks
// (action, subject). No flash and no error status are produced.
func (m Middleware) Require(action, subject string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AbilityFromContext(r.Context()).Can(action, subject) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Debug("rbac denied",
					slog.String("action", action),
					slog.String("subject", subject),
					slog.String("path", r.URL.Path))
			}
			// No body: the denial carries nothing for the page to show.
			w.Header().Set("Location", "/")
			w.WriteHeader(http.StatusSeeOther)
		})
	}
}

// ClearSessionCookies expires the relayed backend cookies and the lock flag.
func ClearSessionCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{backend.AccessTokenCookie, backend.RefreshTokenCookie, routegate.LockedCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
