// Package dashboard renders the landing page summary cards.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/backend"
	"github.com/ispdesk/portal/internal/rbac"
	"github.com/ispdesk/portal/internal/routegate"
	"github.com/ispdesk/portal/internal/view"
)

// Lister counts records through the backend list endpoint.
type Lister interface {
	List(ctx context.Context, cookies []*http.Cookie, resource string, q backend.ListQuery) (*backend.ListResult, error)
}

// CardSpec declares one summary card.
type CardSpec struct {
	Key      string
	Label    string
	Resource string
	Subject  string
	Link     string
	Filter   map[string]string
}

// DefaultCards are the cards shown on the dashboard.
var DefaultCards = []CardSpec{
	{Key: "clients", Label: "Clients", Resource: backend.ResourceClient, Subject: ability.SubjectClient, Link: "/clients"},
	{Key: "installations", Label: "Installations", Resource: backend.ResourceInstallation, Subject: ability.SubjectInstallation, Link: "/installations"},
	{Key: "subscriptions", Label: "Active subscriptions", Resource: backend.ResourceSubscription, Subject: ability.SubjectSubscription, Link: "/subscriptions", Filter: map[string]string{"status": "active"}},
	{Key: "tickets", Label: "Open tickets", Resource: backend.ResourceTicket, Subject: ability.SubjectTicket, Link: "/tickets", Filter: map[string]string{"status": "open"}},
	{Key: "payments", Label: "Payments", Resource: backend.ResourcePayment, Subject: ability.SubjectPayment, Link: "/payments"},
	{Key: "equipment", Label: "Equipment", Resource: backend.ResourceEquipment, Subject: ability.SubjectEquipment, Link: "/equipment"},
}

// Card is a rendered card. Err is set when its count could not be loaded.
type Card struct {
	CardSpec
	Total int
	Err   string
}

// Service loads the cards visible to an ability.
type Service struct {
	lister Lister
	cards  []CardSpec
}

// NewService builds a Service; nil cards selects DefaultCards.
func NewService(lister Lister, cards []CardSpec) *Service {
	if cards == nil {
		cards = DefaultCards
	}
	return &Service{lister: lister, cards: cards}
}

// Cards fetches the visible cards concurrently. A failing card carries an
// error message; only an unauthorized session fails the whole call.
func (s *Service) Cards(ctx context.Context, a *ability.Ability, cookies []*http.Cookie) ([]Card, error) {
	var visible []Card
	for _, spec := range s.cards {
		if a.Can(ability.ActionRead, spec.Subject) {
			visible = append(visible, Card{CardSpec: spec})
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := range visible {
		card := &visible[i]
		g.Go(func() error {
			res, err := s.lister.List(gctx, cookies, card.Resource, backend.ListQuery{Page: 1, Limit: 1, Filter: card.Filter})
			if err != nil {
				if errors.Is(err, backend.ErrUnauthorized) {
					return err
				}
				card.Err = backend.Message(err)
				return nil
			}
			card.Total = res.Total
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return visible, nil
}

// Handler serves the dashboard page.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	secure    bool
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, secureCookies bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, secure: secureCookies}
}

// MountRoutes registers the dashboard route. The page itself is never
// gated: denied pages redirect here.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.show)
}

type pageData struct {
	Cards []Card
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	cards, err := h.service.Cards(r.Context(), rbac.AbilityFromContext(r.Context()), backend.ForwardedCookies(r))
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			rbac.ClearSessionCookies(w, h.secure)
			http.Redirect(w, r, routegate.LoginPath, http.StatusSeeOther)
			return
		}
		h.logger.Warn("dashboard cards", slog.Any("error", err))
	}
	if err := h.templates.Render(w, http.StatusOK, "pages/dashboard.html", h.templates.Data(r, "Dashboard", pageData{Cards: cards})); err != nil {
		h.logger.Error("render template", slog.Any("error", err), slog.String("template", "pages/dashboard.html"))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
