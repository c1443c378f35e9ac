// Package routegate redirects browsers without a backend session to the
// login page and locked sessions to the lock screen. It only looks at
// cookies; the backend still validates every call.
package routegate

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Cookie names inspected by the gate.
const (
	AccessTokenCookie = "access_token"
	LockedCookie      = "is_locked"
)

// Default redirect targets.
const (
	LoginPath      = "/login"
	LockScreenPath = "/lock-screen"
)

// Options configure the gate.
type Options struct {
	// PublicPrefixes pass through without a session.
	PublicPrefixes []string
	// LockExempt paths stay reachable while the session is locked.
	LockExempt []string
	// Now overrides the clock used for token expiry checks.
	Now func() time.Time
}

// DefaultOptions returns the portal's gate configuration.
func DefaultOptions() Options {
	return Options{
		PublicPrefixes: []string{LoginPath, "/auth/login", "/static/", "/healthz", "/metrics"},
		LockExempt:     []string{LockScreenPath, "/auth/unlock", "/auth/logout"},
	}
}

// Decision is the outcome of evaluating a request.
type Decision struct {
	Redirect string
}

// Gate evaluates cookies against path rules.
type Gate struct {
	opts   Options
	parser *jwt.Parser
}

// New builds a Gate.
func New(opts Options) *Gate {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gate{opts: opts, parser: jwt.NewParser()}
}

// Evaluate decides where r should go. An empty Redirect means pass through.
func (g *Gate) Evaluate(r *http.Request) Decision {
	path := r.URL.Path
	if g.isPublic(path) {
		return Decision{}
	}
	if !g.hasSession(r) {
		return Decision{Redirect: LoginPath}
	}
	if locked(r) && !g.isLockExempt(path) {
		return Decision{Redirect: LockScreenPath}
	}
	return Decision{}
}

// Middleware applies Evaluate to every request.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := g.Evaluate(r)
		if decision.Redirect == "" || decision.Redirect == r.URL.Path {
			next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, decision.Redirect, http.StatusSeeOther)
	})
}

func (g *Gate) hasSession(r *http.Request) bool {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return false
	}
	return !g.expired(cookie.Value)
}

// expired peeks at the exp claim of JWT-shaped tokens. Opaque tokens are
// left to the backend.
func (g *Gate) expired(token string) bool {
	if strings.Count(token, ".") != 2 {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := g.parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !g.opts.Now().Before(exp.Time)
}

func locked(r *http.Request) bool {
	cookie, err := r.Cookie(LockedCookie)
	return err == nil && strings.EqualFold(strings.TrimSpace(cookie.Value), "true")
}

func (g *Gate) isPublic(path string) bool {
	for _, prefix := range g.opts.PublicPrefixes {
		if path == strings.TrimRight(prefix, "/") || (strings.HasSuffix(prefix, "/") && strings.HasPrefix(path, prefix)) {
			return true
		}
	}
	return false
}

func (g *Gate) isLockExempt(path string) bool {
	for _, p := range g.opts.LockExempt {
		if path == p {
			return true
		}
	}
	return false
}
