// Package ability derives the capability set of a signed-in user from the
// role and permission payload returned by the backend.
//
// The capability set only decides which navigation entries and controls the
// portal renders. The backend enforces authorization on every call.
package ability

import (
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// Wildcard is the permission code granting every action on every subject
	// when held by the superadmin role.
	Wildcard = "*"
	// DefaultSuperAdminCode is the role code that unlocks the wildcard.
	DefaultSuperAdminCode = "SUPERADMIN"
)

// Source records how a capability was derived.
type Source string

const (
	// SourceTable marks grants whose resource key is in the subject table.
	SourceTable Source = "table"
	// SourceInferred marks grants whose subject was capitalised from the key.
	SourceInferred Source = "inferred"
	// SourceLoose marks read grants added by substring matching.
	SourceLoose Source = "loose"
)

// Rule is a single granted (action, subject) pair.
type Rule struct {
	Action  string
	Subject string
	Source  Source
}

// Options tune how an Ability is built.
type Options struct {
	SuperAdminCode string
}

type grantKey struct {
	action  string
	subject string
}

// Ability answers Can queries for one user payload. The zero value and the
// nil pointer deny everything.
type Ability struct {
	allowAll bool
	grants   map[grantKey]Source
}

// Build derives an Ability using the default superadmin role code.
func Build(user *User) *Ability {
	return BuildWithOptions(user, Options{})
}

// BuildWithOptions derives an Ability from the user payload.
func BuildWithOptions(user *User, opts Options) *Ability {
	a := &Ability{grants: make(map[grantKey]Source)}
	if user == nil {
		return a
	}
	superCode := strings.TrimSpace(opts.SuperAdminCode)
	if superCode == "" {
		superCode = DefaultSuperAdminCode
	}

	for _, ur := range user.Roles {
		if !strings.EqualFold(strings.TrimSpace(ur.Role.Code), superCode) {
			continue
		}
		for _, rp := range ur.Role.Permissions {
			if strings.TrimSpace(rp.Permission.Code) == Wildcard {
				a.allowAll = true
				return a
			}
		}
	}

	// Casers are stateful and must not be shared between goroutines.
	upper := cases.Upper(language.Und)
	codes := collectCodes(user)
	keys := make([]string, 0, len(codes))
	for _, code := range codes {
		resourceKey, action, ok := splitCode(code)
		if !ok {
			continue
		}
		keys = append(keys, resourceKey)
		if subject, known := SubjectFor(strings.ToLower(resourceKey)); known {
			a.grant(action, subject, SourceTable)
			continue
		}
		a.grant(action, capitalise(upper, resourceKey), SourceInferred)
	}

	for _, subject := range canonicalSubjects {
		needle := flatten(subject)
		for _, key := range keys {
			if strings.Contains(flatten(key), needle) {
				a.grant(ActionRead, subject, SourceLoose)
				break
			}
		}
	}
	return a
}

// Can reports whether the exact (action, subject) pair was granted.
func (a *Ability) Can(action, subject string) bool {
	if a == nil {
		return false
	}
	if a.allowAll {
		return true
	}
	_, ok := a.grants[grantKey{action: normalizeAction(action), subject: strings.TrimSpace(subject)}]
	return ok
}

// Cannot is the negation of Can.
func (a *Ability) Cannot(action, subject string) bool {
	return !a.Can(action, subject)
}

// AllowsAll reports whether the superadmin short-circuit applied.
func (a *Ability) AllowsAll() bool {
	return a != nil && a.allowAll
}

// Rules returns every explicit grant sorted by subject then action.
func (a *Ability) Rules() []Rule {
	if a == nil {
		return nil
	}
	rules := make([]Rule, 0, len(a.grants))
	for key, source := range a.grants {
		rules = append(rules, Rule{Action: key.action, Subject: key.subject, Source: source})
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Subject != rules[j].Subject {
			return rules[i].Subject < rules[j].Subject
		}
		return rules[i].Action < rules[j].Action
	})
	return rules
}

func (a *Ability) grant(action, subject string, source Source) {
	key := grantKey{action: action, subject: subject}
	if _, exists := a.grants[key]; exists {
		return
	}
	a.grants[key] = source
}

// collectCodes returns distinct non-wildcard codes in payload order.
func collectCodes(user *User) []string {
	seen := make(map[string]struct{})
	var codes []string
	for _, ur := range user.Roles {
		for _, rp := range ur.Role.Permissions {
			code := strings.TrimSpace(rp.Permission.Code)
			if code == "" || code == Wildcard {
				continue
			}
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			codes = append(codes, code)
		}
	}
	return codes
}

// splitCode splits "resource:action" on the first colon.
func splitCode(code string) (resourceKey, action string, ok bool) {
	left, right, found := strings.Cut(code, ":")
	if !found {
		return "", "", false
	}
	resourceKey = strings.TrimSpace(left)
	action = normalizeAction(right)
	if resourceKey == "" || action == "" {
		return "", "", false
	}
	return resourceKey, action, true
}

func normalizeAction(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}

// flatten lowercases s and drops separators so "user-roles" matches "UserRole".
func flatten(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ', '.':
			return -1
		}
		return r
	}, strings.ToLower(s))
}

// capitalise upper-cases the first rune of key and leaves the rest alone, so
// "work-orders" becomes "Work-orders" rather than "Work-Orders".
func capitalise(upper cases.Caser, key string) string {
	_, size := utf8.DecodeRuneInString(key)
	if size == 0 {
		return key
	}
	return upper.String(key[:size]) + key[size:]
}
