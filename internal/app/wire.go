package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/auth"
	"github.com/ispdesk/portal/internal/backend"
	"github.com/ispdesk/portal/internal/dashboard"
	"github.com/ispdesk/portal/internal/nav"
	"github.com/ispdesk/portal/internal/observability"
	"github.com/ispdesk/portal/internal/rbac"
	"github.com/ispdesk/portal/internal/resources"
	"github.com/ispdesk/portal/internal/routegate"
	"github.com/ispdesk/portal/internal/routeid"
	"github.com/ispdesk/portal/internal/search"
	"github.com/ispdesk/portal/internal/shared"
	"github.com/ispdesk/portal/internal/view"
	"github.com/ispdesk/portal/jobs"
	"github.com/ispdesk/portal/report"
)

// SessionCookieName names the portal's own session cookie.
const SessionCookieName = "portal_session"

// Deps are the process-level resources the portal handler is built from.
// Auditor, History and Inspector are optional; without Postgres and the
// queue the portal runs with no session audit trail.
type Deps struct {
	Config    *Config
	Logger    *slog.Logger
	Redis     *redis.Client
	Metrics   *observability.Metrics
	Auditor   auth.Auditor
	History   auth.SessionLister
	Inspector jobs.QueueInspector
}

// NewHandler assembles every component and returns the root handler.
func NewHandler(d Deps) (http.Handler, error) {
	cfg := d.Config
	if cfg == nil {
		return nil, fmt.Errorf("app: config required")
	}
	logger := d.Logger
	if logger == nil {
		logger = NewLogger(cfg)
	}
	if d.Metrics == nil {
		d.Metrics = observability.NewMetrics()
	}
	secureCookies := cfg.IsProduction()

	api := backend.New(backend.Config{BaseURL: cfg.BackendURL, Timeout: cfg.BackendTimeout}, logger, backend.NewMetrics(d.Metrics.Registerer()))
	profiles := auth.NewProfileLoader(api, cfg.ProfileCacheSize, cfg.ProfileCacheTTL, d.Metrics.Registerer())

	routes, err := routeid.New(cfg.RouteSecret)
	if err != nil {
		return nil, fmt.Errorf("app: route ids: %w", err)
	}
	tree, err := nav.Default()
	if err != nil {
		return nil, fmt.Errorf("app: navigation: %w", err)
	}
	registry, err := resources.Default()
	if err != nil {
		return nil, fmt.Errorf("app: resources: %w", err)
	}

	sessions := shared.NewSessionManager(d.Redis, SessionCookieName, cfg.SessionTTL, secureCookies)
	csrf := shared.NewCSRFManager(cfg.CSRFSecret)
	templates, err := view.NewEngine(view.Options{Nav: tree, CSRF: csrf, Routes: routes, AssetBaseURL: cfg.AssetBaseURL})
	if err != nil {
		return nil, fmt.Errorf("app: templates: %w", err)
	}

	abilityOpts := ability.Options{SuperAdminCode: cfg.SuperAdminRoleCode}
	gate := rbac.Middleware{Profiles: profiles, Options: abilityOpts, Logger: logger, Secure: secureCookies}

	authService := auth.NewService(api, profiles, d.Auditor, logger)
	authHandler := auth.NewHandler(logger, authService, templates, sessions, csrf, auth.HandlerOptions{
		History:       d.History,
		Ability:       abilityOpts,
		SecureCookies: secureCookies,
	})

	pdf := report.NewClient(cfg.GotenbergURL)
	resourceHandler := resources.NewHandler(logger, api, registry, routes, templates, gate, resources.Options{
		Exporter:       report.NewExporter(pdf),
		MaxUploadBytes: cfg.MaxUploadBytes,
		SecureCookies:  secureCookies,
	})

	var jobHandler *jobs.Handler
	if d.Inspector != nil {
		jobHandler = jobs.NewHandler(d.Inspector, logger)
	}

	return NewRouter(RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessions,
		CSRFManager:      csrf,
		Gate:             routegate.New(routegate.DefaultOptions()),
		RBACMiddleware:   gate,
		Metrics:          d.Metrics,
		AuthHandler:      authHandler,
		DashboardHandler: dashboard.NewHandler(logger, dashboard.NewService(api, nil), templates, secureCookies),
		ResourcesHandler: resourceHandler,
		SearchHandler:    search.NewHandler(logger, api, registry, routes, search.NewCoordinator()),
		ReportHandler:    report.NewHandler(pdf, logger),
		JobHandler:       jobHandler,
	}), nil
}
