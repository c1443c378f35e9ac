// Package rbac attaches the signed-in user's ability to each request and
// gates pages and template controls on it. Denials are silent: the backend
// remains the enforcement point.
package rbac

import (
	"context"
	"html/template"

	"github.com/ispdesk/portal/internal/ability"
)

type abilityContextKey struct{}

type userContextKey struct{}

// ContextWithAbility stores the request ability.
func ContextWithAbility(ctx context.Context, a *ability.Ability) context.Context {
	return context.WithValue(ctx, abilityContextKey{}, a)
}

// AbilityFromContext returns the request ability. A missing ability denies
// everything.
func AbilityFromContext(ctx context.Context) *ability.Ability {
	a, _ := ctx.Value(abilityContextKey{}).(*ability.Ability)
	return a
}

// ContextWithUser stores the resolved profile.
func ContextWithUser(ctx context.Context, user *ability.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the resolved profile or nil.
func UserFromContext(ctx context.Context) *ability.User {
	user, _ := ctx.Value(userContextKey{}).(*ability.User)
	return user
}

// FuncMap exposes the ability to templates as "can" and "cannot".
func FuncMap(a *ability.Ability) template.FuncMap {
	return template.FuncMap{
		"can":    a.Can,
		"cannot": a.Cannot,
	}
}
