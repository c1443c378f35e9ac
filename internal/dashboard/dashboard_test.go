package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/backend"
	"github.com/ispdesk/portal/internal/rbac"
	"github.com/ispdesk/portal/internal/view"
	_ "github.com/ispdesk/portal/testing"
)

type stubLister struct {
	mu      sync.Mutex
	totals  map[string]int
	fail    map[string]error
	queries map[string]backend.ListQuery
}

func (s *stubLister) List(ctx context.Context, cookies []*http.Cookie, resource string, q backend.ListQuery) (*backend.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queries == nil {
		s.queries = map[string]backend.ListQuery{}
	}
	s.queries[resource] = q
	if err := s.fail[resource]; err != nil {
		return nil, err
	}
	return &backend.ListResult{Total: s.totals[resource]}, nil
}

func abilityFor(codes ...string) *ability.Ability {
	perms := make([]ability.RolePermission, 0, len(codes))
	for _, c := range codes {
		perms = append(perms, ability.RolePermission{Permission: ability.Permission{Code: c}})
	}
	return ability.Build(&ability.User{Roles: []ability.UserRole{{Role: ability.Role{Code: "OPS", Permissions: perms}}}})
}

func TestCardsAreGatedAndCounted(t *testing.T) {
	lister := &stubLister{totals: map[string]int{"client": 120, "ticket": 4}}
	svc := NewService(lister, nil)

	cards, err := svc.Cards(context.Background(), abilityFor("clients:read", "tickets:read"), nil)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "clients", cards[0].Key)
	assert.Equal(t, 120, cards[0].Total)
	assert.Equal(t, 4, cards[1].Total)
	assert.Equal(t, map[string]string{"status": "open"}, lister.queries["ticket"].Filter)
	assert.Equal(t, 1, lister.queries["ticket"].Limit)
	assert.NotContains(t, lister.queries, "payment")
}

func TestFailingCardDoesNotFailPage(t *testing.T) {
	lister := &stubLister{
		totals: map[string]int{"client": 3},
		fail:   map[string]error{"payment": backend.ErrUnavailable},
	}
	cards, err := NewService(lister, nil).Cards(context.Background(), abilityFor("clients:read", "payments:read"), nil)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Empty(t, cards[0].Err)
	assert.NotEmpty(t, cards[1].Err)
}

func TestUnauthorizedFailsCards(t *testing.T) {
	lister := &stubLister{fail: map[string]error{"client": &backend.Error{Status: http.StatusUnauthorized}}}
	_, err := NewService(lister, nil).Cards(context.Background(), abilityFor("clients:read"), nil)
	assert.ErrorIs(t, err, backend.ErrUnauthorized)
}

func TestDashboardPageRenders(t *testing.T) {
	templates, err := view.NewEngine(view.Options{})
	require.NoError(t, err)
	lister := &stubLister{totals: map[string]int{"installation": 42}}
	h := NewHandler(nil, NewService(lister, nil), templates, false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := rbac.ContextWithUser(req.Context(), &ability.User{Email: "noc@isp.local"})
	ctx = rbac.ContextWithAbility(ctx, abilityFor("installations:read"))
	rec := httptest.NewRecorder()
	h.show(rec, req.WithContext(ctx))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Installations")
	assert.Contains(t, rec.Body.String(), "42")
	assert.NotContains(t, rec.Body.String(), "Open tickets")
}

func TestDashboardUnauthorizedRedirects(t *testing.T) {
	templates, err := view.NewEngine(view.Options{})
	require.NoError(t, err)
	lister := &stubLister{fail: map[string]error{"client": backend.ErrUnauthorized}}
	h := NewHandler(nil, NewService(lister, nil), templates, false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.show(rec, req.WithContext(rbac.ContextWithAbility(req.Context(), abilityFor("clients:read"))))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}
