package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/backend"
	"github.com/ispdesk/portal/internal/rbac"
	"github.com/ispdesk/portal/internal/resources"
	"github.com/ispdesk/portal/internal/routeid"
)

func TestBeginCancelsPreviousRequest(t *testing.T) {
	c := NewCoordinator()
	first, doneFirst := c.Begin(context.Background(), "s1|client")
	second, doneSecond := c.Begin(context.Background(), "s1|client")
	defer doneSecond()

	assert.ErrorIs(t, first.Err(), context.Canceled)
	assert.True(t, Superseded(first))
	assert.NoError(t, second.Err())
	assert.False(t, Superseded(second))

	// A finished superseded request must not evict its successor.
	doneFirst()
	assert.Equal(t, 1, c.InFlight())
}

func TestBeginKeysAreIndependent(t *testing.T) {
	c := NewCoordinator()
	a, doneA := c.Begin(context.Background(), "s1|client")
	b, doneB := c.Begin(context.Background(), "s1|ticket")
	other, doneOther := c.Begin(context.Background(), "s2|client")
	assert.NoError(t, a.Err())
	assert.NoError(t, b.Err())
	assert.NoError(t, other.Err())
	doneA()
	doneB()
	doneOther()
	assert.Zero(t, c.InFlight())
	assert.False(t, Superseded(a))
}

func TestDoneCancelsContext(t *testing.T) {
	c := NewCoordinator()
	ctx, done := c.Begin(context.Background(), "k")
	done()
	assert.Error(t, ctx.Err())
	assert.False(t, Superseded(ctx))
}

type blockingLister struct {
	started chan string
}

func (b *blockingLister) List(ctx context.Context, cookies []*http.Cookie, resource string, q backend.ListQuery) (*backend.ListResult, error) {
	b.started <- q.Search
	if q.Search == "slow" {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &backend.ListResult{Items: []backend.Record{
		{"id": "1", "name": "ACME Fibre"},
		{"name": "no id"},
	}}, nil
}

func newSearchRouter(t *testing.T, lister Lister, a *ability.Ability) http.Handler {
	t.Helper()
	reg, err := resources.Default()
	require.NoError(t, err)
	codec, err := routeid.New("secret")
	require.NoError(t, err)
	h := NewHandler(nil, lister, reg, codec, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(rbac.ContextWithAbility(req.Context(), a)))
		})
	})
	h.MountRoutes(r)
	return r
}

func readAbility(codes ...string) *ability.Ability {
	perms := make([]ability.RolePermission, 0, len(codes))
	for _, c := range codes {
		perms = append(perms, ability.RolePermission{Permission: ability.Permission{Code: c}})
	}
	return ability.Build(&ability.User{Roles: []ability.UserRole{{Role: ability.Role{Code: "OPS", Permissions: perms}}}})
}

func searchRequest(q string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/search/client?q="+q, nil)
	req.AddCookie(&http.Cookie{Name: backend.AccessTokenCookie, Value: "same-browser"})
	return req
}

func TestSearchReturnsSuggestions(t *testing.T) {
	lister := &blockingLister{started: make(chan string, 4)}
	router := newSearchRouter(t, lister, readAbility("clients:read"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, searchRequest("acme"))
	require.Equal(t, http.StatusOK, rec.Code)

	var out []Suggestion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, "ACME Fibre", out[0].Label)
	assert.NotEmpty(t, out[0].Ref)
}

func TestSearchSupersededReturnsNoContent(t *testing.T) {
	lister := &blockingLister{started: make(chan string, 4)}
	router := newSearchRouter(t, lister, readAbility("clients:read"))

	slow := httptest.NewRecorder()
	finished := make(chan struct{})
	go func() {
		router.ServeHTTP(slow, searchRequest("slow"))
		close(finished)
	}()
	require.Equal(t, "slow", <-lister.started)

	fast := httptest.NewRecorder()
	router.ServeHTTP(fast, searchRequest("acme"))

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded request did not finish")
	}
	assert.Equal(t, http.StatusNoContent, slow.Code)
	assert.Equal(t, http.StatusOK, fast.Code)
}

func TestSearchWithoutCapabilityIsEmpty(t *testing.T) {
	lister := &blockingLister{started: make(chan string, 4)}
	router := newSearchRouter(t, lister, readAbility("tickets:read"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, searchRequest("acme"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Empty(t, lister.started)
}

func TestSearchUnknownResource(t *testing.T) {
	router := newSearchRouter(t, &blockingLister{started: make(chan string, 1)}, readAbility("clients:read"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/gizmo?q=x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
