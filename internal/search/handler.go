package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/backend"
	"github.com/ispdesk/portal/internal/platform/httpx"
	"github.com/ispdesk/portal/internal/rbac"
	"github.com/ispdesk/portal/internal/resources"
	"github.com/ispdesk/portal/internal/routeid"
	"github.com/ispdesk/portal/internal/shared"
)

// MaxSuggestions caps the suggestions per response.
const MaxSuggestions = 10

// Lister runs the backend search.
type Lister interface {
	List(ctx context.Context, cookies []*http.Cookie, resource string, q backend.ListQuery) (*backend.ListResult, error)
}

// Suggestion is one autocomplete entry.
type Suggestion struct {
	ID    string `json:"id"`
	Ref   string `json:"ref"`
	Label string `json:"label"`
}

// Handler serves GET /search/{resource}.
type Handler struct {
	logger      *slog.Logger
	lister      Lister
	registry    *resources.Registry
	routes      *routeid.Codec
	coordinator *Coordinator
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, lister Lister, registry *resources.Registry, routes *routeid.Codec, coordinator *Coordinator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if coordinator == nil {
		coordinator = NewCoordinator()
	}
	return &Handler{logger: logger, lister: lister, registry: registry, routes: routes, coordinator: coordinator}
}

// MountRoutes registers the search endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/search/{resource}", h.search)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	def, ok := h.registry.Lookup(chi.URLParam(r, "resource"))
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown resource")
		return
	}
	// Suggestions the user could not open are simply not offered.
	if !rbac.AbilityFromContext(r.Context()).Can(ability.ActionRead, def.Subject) {
		httpx.JSON(w, http.StatusOK, []Suggestion{})
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		httpx.JSON(w, http.StatusOK, []Suggestion{})
		return
	}

	ctx, done := h.coordinator.Begin(r.Context(), requestKey(r, def.Name))
	defer done()

	res, err := h.lister.List(ctx, backend.ForwardedCookies(r), def.Name, backend.ListQuery{Page: 1, Limit: MaxSuggestions, Search: query})
	if Superseded(ctx) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client went away.
			return
		}
		if !errors.Is(err, backend.ErrUnauthorized) {
			h.logger.Warn("search", slog.String("resource", def.Name), slog.Any("error", err))
		}
		httpx.RespondError(w, problemFor(err))
		return
	}

	out := make([]Suggestion, 0, len(res.Items))
	for _, rec := range res.Items {
		id := rec.ID()
		if id == "" {
			continue
		}
		out = append(out, Suggestion{ID: id, Ref: h.routes.MustEncode(id), Label: def.RecordLabel(rec)})
		if len(out) == MaxSuggestions {
			break
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func problemFor(err error) error {
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		return httpx.ErrUnauthorized
	case errors.Is(err, backend.ErrForbidden):
		return httpx.ErrForbidden
	case errors.Is(err, backend.ErrNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, backend.ErrValidation):
		return httpx.ErrValidation
	}
	return httpx.ErrUnavailable
}

// requestKey identifies the browser session and resource.
func requestKey(r *http.Request, resource string) string {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		return sess.ID + "|" + resource
	}
	for _, c := range backend.ForwardedCookies(r) {
		if c.Name == backend.AccessTokenCookie {
			sum := sha256.Sum256([]byte(c.Value))
			return hex.EncodeToString(sum[:8]) + "|" + resource
		}
	}
	return r.RemoteAddr + "|" + resource
}
