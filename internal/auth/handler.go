package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/backend"
	"github.com/ispdesk/portal/internal/rbac"
	"github.com/ispdesk/portal/internal/routegate"
	"github.com/ispdesk/portal/internal/shared"
	"github.com/ispdesk/portal/internal/view"
)

// SessionLister lists recent sign-ins for the profile page.
type SessionLister interface {
	RecentSessions(ctx context.Context, userID int64, limit int) ([]SessionRecord, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
	history        SessionLister
	abilityOpts    ability.Options
	secureCookies  bool
}

// HandlerOptions carries optional collaborators.
type HandlerOptions struct {
	History       SessionLister
	Ability       ability.Options
	SecureCookies bool
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
		history:        opts.History,
		abilityOpts:    opts.Ability,
		secureCookies:  opts.SecureCookies,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get(routegate.LoginPath, h.showLogin)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
	r.Get(routegate.LockScreenPath, h.showLockScreen)
	r.Post("/auth/lock", h.handleLock)
	r.Post("/auth/unlock", h.handleUnlock)
	r.Get("/profile", h.showProfile)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

type lockPageData struct {
	Email  string
	Name   string
	Errors map[string]string
}

type profilePageData struct {
	User     *ability.User
	Rules    []ability.Rule
	AllowAll bool
	Sessions []SessionRecord
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/login.html", "Sign in", loginPageData{}, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	form := loginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	errs := h.validateStruct(form)
	if len(errs) > 0 {
		h.render(w, r, "pages/login.html", "Sign in", loginPageData{Form: loginForm{Email: form.Email}, Errors: errs}, http.StatusBadRequest)
		return
	}

	if sess != nil {
		if err := h.sessionManager.Renew(r.Context(), sess); err != nil {
			h.logger.Warn("renew session", slog.Any("error", err))
		}
	}
	info := ClientInfo{IP: r.RemoteAddr, UserAgent: r.UserAgent()}
	if sess != nil {
		info.SessionID = sess.ID
	}
	result, err := h.service.Authenticate(r.Context(), form.Email, form.Password, info)
	if err != nil {
		errs = map[string]string{}
		if errors.Is(err, shared.ErrInvalidCredentials) {
			errs["general"] = "Invalid email or password"
		} else {
			h.logger.Warn("login", slog.Any("error", err))
			shared.AddFlash(r.Context(), shared.FlashError, backend.Message(err))
		}
		h.render(w, r, "pages/login.html", "Sign in", loginPageData{Form: loginForm{Email: form.Email}, Errors: errs}, http.StatusBadRequest)
		return
	}

	h.relayCookies(w, result.Cookies)
	h.setLocked(w, false)
	if sess != nil {
		sess.SetUser(strconv.FormatInt(result.User.ID, 10))
		sess.Set("email", result.User.Email)
		if _, err := h.csrfManager.Rotate(sess); err != nil {
			h.logger.Warn("rotate csrf", slog.Any("error", err))
		}
		sess.AddFlash(shared.FlashMessage{Kind: shared.FlashSuccess, Message: "Welcome back, " + result.User.DisplayName()})
	}
	landing := h.templates.Landing(ability.BuildWithOptions(result.User, h.abilityOpts))
	http.Redirect(w, r, landing, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	sessionID := ""
	if sess != nil && sess.User() != "" {
		sessionID = sess.ID
	}
	h.service.Logout(r.Context(), backend.ForwardedCookies(r), sessionID)
	rbac.ClearSessionCookies(w, h.secureCookies)
	if sess != nil {
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, routegate.LoginPath, http.StatusSeeOther)
}

func (h *Handler) showLockScreen(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/lock_screen.html", "Locked", h.lockData(r, nil), http.StatusOK)
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	h.service.Lock(backend.ForwardedCookies(r))
	h.setLocked(w, true)
	http.Redirect(w, r, routegate.LockScreenPath, http.StatusSeeOther)
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	password := r.PostFormValue("password")
	if err := h.validator.Var(password, "required"); err != nil {
		h.render(w, r, "pages/lock_screen.html", "Locked", h.lockData(r, map[string]string{"Password": "Password is required"}), http.StatusBadRequest)
		return
	}
	data := h.lockData(r, nil)
	if data.Email == "" {
		// Nothing to re-authenticate against; start over.
		rbac.ClearSessionCookies(w, h.secureCookies)
		http.Redirect(w, r, routegate.LoginPath, http.StatusSeeOther)
		return
	}

	cookies, err := h.service.Unlock(r.Context(), data.Email, password)
	if err != nil {
		errs := map[string]string{}
		if errors.Is(err, shared.ErrInvalidCredentials) {
			errs["Password"] = "Incorrect password"
		} else {
			h.logger.Warn("unlock", slog.Any("error", err))
			shared.AddFlash(r.Context(), shared.FlashError, backend.Message(err))
		}
		h.render(w, r, "pages/lock_screen.html", "Locked", h.lockData(r, errs), http.StatusBadRequest)
		return
	}
	h.relayCookies(w, cookies)
	h.setLocked(w, false)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) showProfile(w http.ResponseWriter, r *http.Request) {
	user := rbac.UserFromContext(r.Context())
	if user == nil {
		http.Redirect(w, r, routegate.LoginPath, http.StatusSeeOther)
		return
	}
	a := rbac.AbilityFromContext(r.Context())
	data := profilePageData{User: user, Rules: a.Rules(), AllowAll: a.AllowsAll()}
	if h.history != nil {
		sessions, err := h.history.RecentSessions(r.Context(), user.ID, 10)
		if err != nil {
			h.logger.Warn("recent sessions", slog.Any("error", err))
		}
		data.Sessions = sessions
	}
	h.render(w, r, "pages/profile.html", "My profile", data, http.StatusOK)
}

func (h *Handler) lockData(r *http.Request, errs map[string]string) lockPageData {
	data := lockPageData{Errors: errs}
	if user := rbac.UserFromContext(r.Context()); user != nil {
		data.Email = user.Email
		data.Name = user.DisplayName()
	}
	if data.Email == "" {
		if sess := shared.SessionFromContext(r.Context()); sess != nil {
			data.Email = sess.Get("email")
		}
	}
	if data.Name == "" {
		data.Name = data.Email
	}
	return data
}

func (h *Handler) validateStruct(form any) map[string]string {
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				errs[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		}
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "Enter a valid email address"
	default:
		return fe.Field() + " is invalid"
	}
}

// relayCookies re-issues the backend's session cookies on the portal origin.
func (h *Handler) relayCookies(w http.ResponseWriter, cookies []*http.Cookie) {
	for _, c := range cookies {
		if c.Name != backend.AccessTokenCookie && c.Name != backend.RefreshTokenCookie {
			continue
		}
		relayed := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     "/",
			HttpOnly: true,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteLaxMode,
		}
		if c.MaxAge > 0 {
			relayed.MaxAge = c.MaxAge
		} else if !c.Expires.IsZero() {
			relayed.Expires = c.Expires
		}
		http.SetCookie(w, relayed)
	}
}

func (h *Handler) setLocked(w http.ResponseWriter, locked bool) {
	c := &http.Cookie{
		Name:     routegate.LockedCookie,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if locked {
		c.Value = "true"
		c.Expires = time.Now().Add(h.sessionManager.TTL())
	} else {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data any, status int) {
	if err := h.templates.Render(w, status, template, h.templates.Data(r, title, data)); err != nil {
		h.logger.Error("render template", slog.Any("error", err), slog.String("template", template))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
