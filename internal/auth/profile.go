package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/backend"
)

// ProfileSource fetches the profile for a set of backend cookies.
type ProfileSource interface {
	Profile(ctx context.Context, cookies []*http.Cookie) (*ability.User, error)
}

// ProfileLoader caches backend profiles per access token. Entries expire
// after the configured TTL so revoked permissions surface quickly; the cache
// only shapes what the portal renders.
type ProfileLoader struct {
	source ProfileSource
	cache  *expirable.LRU[string, *ability.User]
	group  singleflight.Group
	hits   prometheus.Counter
	misses prometheus.Counter
}

// NewProfileLoader builds a loader holding at most size profiles for ttl.
// registerer may be nil.
func NewProfileLoader(source ProfileSource, size int, ttl time.Duration, registerer prometheus.Registerer) *ProfileLoader {
	if size <= 0 {
		size = 1024
	}
	l := &ProfileLoader{
		source: source,
		cache:  expirable.NewLRU[string, *ability.User](size, nil, ttl),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_profile_cache_hits_total",
			Help: "Profile lookups served from the in-process cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_profile_cache_misses_total",
			Help: "Profile lookups that went to the backend.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(l.hits, l.misses)
	}
	return l
}

// Load returns the profile for the forwarded cookies. Concurrent loads for
// the same token share one backend call.
func (l *ProfileLoader) Load(ctx context.Context, cookies []*http.Cookie) (*ability.User, error) {
	token := accessToken(cookies)
	if token == "" {
		return nil, backend.ErrUnauthorized
	}
	key := cacheKey(token)
	if user, ok := l.cache.Get(key); ok {
		l.hits.Inc()
		return user, nil
	}
	l.misses.Inc()

	ch := l.group.DoChan(key, func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		user, err := l.source.Profile(fetchCtx, cookies)
		if err != nil {
			return nil, err
		}
		l.cache.Add(key, user)
		return user, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ability.User), nil
	}
}

// Invalidate drops the cached profile for the access token in cookies.
func (l *ProfileLoader) Invalidate(cookies []*http.Cookie) {
	if token := accessToken(cookies); token != "" {
		l.cache.Remove(cacheKey(token))
	}
}

// Len reports the number of cached profiles.
func (l *ProfileLoader) Len() int {
	return l.cache.Len()
}

func accessToken(cookies []*http.Cookie) string {
	for _, c := range cookies {
		if c.Name == backend.AccessTokenCookie {
			return c.Value
		}
	}
	return ""
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
