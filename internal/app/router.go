package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/auth"
	"github.com/ispdesk/portal/internal/dashboard"
	"github.com/ispdesk/portal/internal/observability"
	"github.com/ispdesk/portal/internal/platform/httpx"
	"github.com/ispdesk/portal/internal/rbac"
	"github.com/ispdesk/portal/internal/resources"
	"github.com/ispdesk/portal/internal/routegate"
	"github.com/ispdesk/portal/internal/search"
	"github.com/ispdesk/portal/internal/shared"
	"github.com/ispdesk/portal/jobs"
	"github.com/ispdesk/portal/report"
	"github.com/ispdesk/portal/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Gate           *routegate.Gate
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics

	AuthHandler      *auth.Handler
	DashboardHandler *dashboard.Handler
	ResourcesHandler *resources.Handler
	SearchHandler    *search.Handler
	ReportHandler    *report.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	mw := MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Gate:           params.Gate,
		RBAC:           params.RBACMiddleware,
		Metrics:        params.Metrics,
	}
	for _, m := range MiddlewareStack(mw) {
		r.Use(m)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	r.Group(func(r chi.Router) {
		for _, m := range SessionStack(mw) {
			r.Use(m)
		}
		params.AuthHandler.MountRoutes(r)
		if params.DashboardHandler != nil {
			params.DashboardHandler.MountRoutes(r)
		}
		if params.SearchHandler != nil {
			params.SearchHandler.MountRoutes(r)
		}
		if params.ResourcesHandler != nil {
			params.ResourcesHandler.MountRoutes(r)
		}
		// Operational endpoints are for administrators only.
		admin := params.RBACMiddleware.Require(ability.ActionRead, "Resource")
		if params.ReportHandler != nil {
			r.With(admin).Route("/report", params.ReportHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.With(admin).Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}

// staticCacheHandler serves embedded assets with a one hour browser cache.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
