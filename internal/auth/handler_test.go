package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ispdesk/portal/internal/auth"
	"github.com/ispdesk/portal/internal/backend"
	"github.com/ispdesk/portal/internal/rbac"
	"github.com/ispdesk/portal/internal/routegate"
	"github.com/ispdesk/portal/internal/shared"
	"github.com/ispdesk/portal/internal/view"
	_ "github.com/ispdesk/portal/testing"
)

const goodPassword = "correct-horse"

type fixture struct {
	router   http.Handler
	sessions *shared.SessionManager
	loggedIn int
	logouts  int
}

func fakeBackend(t *testing.T, fx *fixture) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds backend.Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if creds.Password != goodPassword {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Invalid credentials"}`))
			return
		}
		fx.loggedIn++
		http.SetCookie(w, &http.Cookie{Name: backend.AccessTokenCookie, Value: "tok-" + creds.Email, HttpOnly: true})
		http.SetCookie(w, &http.Cookie{Name: backend.RefreshTokenCookie, Value: "ref", HttpOnly: true})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(backend.AccessTokenCookie); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":9,"email":"noc@isp.local","username":"noc","roles":[
			{"role":{"code":"SUPPORT","permissions":[{"permission":{"code":"clients:read"}},{"permission":{"code":"tickets:read"}}]}}]}}`))
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		fx.logouts++
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{}
	srv := fakeBackend(t, fx)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fx.sessions = shared.NewSessionManager(redisClient, "test_session", time.Hour, false)
	csrf := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine(view.Options{CSRF: csrf})
	require.NoError(t, err)

	client := backend.New(backend.Config{BaseURL: srv.URL}, nil, nil)
	profiles := auth.NewProfileLoader(client, 16, time.Minute, nil)
	service := auth.NewService(client, profiles, nil, nil)
	handler := auth.NewHandler(nil, service, templates, fx.sessions, csrf, auth.HandlerOptions{})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := fx.sessions.Load(req.Context(), req)
			require.NoError(t, err)
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Use(rbac.Middleware{Profiles: profiles}.Load)
	handler.MountRoutes(r)
	fx.router = r
	return fx
}

func (fx *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func postForm(path string, form url.Values, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginPage(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<form")
	assert.Contains(t, rec.Body.String(), `name="csrf_token"`)
}

func TestLoginValidationErrorsInline(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(postForm("/auth/login", url.Values{"email": {"not-an-email"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Enter a valid email address")
	assert.Contains(t, rec.Body.String(), "Password is required")
	assert.Zero(t, fx.loggedIn)
}

func TestLoginInvalidCredentials(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(postForm("/auth/login", url.Values{"email": {"noc@isp.local"}, "password": {"wrong"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid email or password")
	assert.Nil(t, cookieNamed(rec, backend.AccessTokenCookie))
}

func TestLoginRelaysBackendCookies(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(postForm("/auth/login", url.Values{"email": {"noc@isp.local"}, "password": {goodPassword}}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	// Landing is the first navigation entry the profile can see.
	assert.Equal(t, "/clients", rec.Header().Get("Location"))

	access := cookieNamed(rec, backend.AccessTokenCookie)
	require.NotNil(t, access)
	assert.Equal(t, "tok-noc@isp.local", access.Value)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, "/", access.Path)
	require.NotNil(t, cookieNamed(rec, backend.RefreshTokenCookie))
	locked := cookieNamed(rec, routegate.LockedCookie)
	require.NotNil(t, locked)
	assert.Less(t, locked.MaxAge, 0)
}

func TestLockAndUnlock(t *testing.T) {
	fx := newFixture(t)
	access := &http.Cookie{Name: backend.AccessTokenCookie, Value: "tok-noc@isp.local"}

	rec := fx.do(postForm("/auth/lock", nil, access))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, routegate.LockScreenPath, rec.Header().Get("Location"))
	locked := cookieNamed(rec, routegate.LockedCookie)
	require.NotNil(t, locked)
	assert.Equal(t, "true", locked.Value)

	page := httptest.NewRequest(http.MethodGet, routegate.LockScreenPath, nil)
	page.AddCookie(access)
	rec = fx.do(page)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "noc@isp.local")

	rec = fx.do(postForm("/auth/unlock", url.Values{"password": {"nope"}}, access))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Incorrect password")

	rec = fx.do(postForm("/auth/unlock", url.Values{"password": {goodPassword}}, access))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	unlocked := cookieNamed(rec, routegate.LockedCookie)
	require.NotNil(t, unlocked)
	assert.Less(t, unlocked.MaxAge, 0)
	assert.Equal(t, 1, fx.loggedIn)
}

func TestLogoutClearsCookies(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(postForm("/auth/logout", nil, &http.Cookie{Name: backend.AccessTokenCookie, Value: "tok"}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, routegate.LoginPath, rec.Header().Get("Location"))
	assert.Equal(t, 1, fx.logouts)
	cleared := cookieNamed(rec, backend.AccessTokenCookie)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestProfilePageListsGrants(t *testing.T) {
	fx := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.AddCookie(&http.Cookie{Name: backend.AccessTokenCookie, Value: "tok"})
	rec := fx.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "noc@isp.local")
	assert.Contains(t, body, "SUPPORT")
	assert.Contains(t, body, "Ticket")
}

func TestProfileWithoutSessionRedirects(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(httptest.NewRequest(http.MethodGet, "/profile", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, routegate.LoginPath, rec.Header().Get("Location"))
}
