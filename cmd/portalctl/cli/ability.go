package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/nav"
)

// Explanation is what a profile payload unlocks in the portal.
type Explanation struct {
	User     *ability.User
	AllowAll bool
	Rules    []ability.Rule
	Landing  string
	Nav      []nav.VisibleGroup
}

// DecodeUser reads a profile payload, either bare or wrapped in {"data": ...}.
func DecodeUser(r io.Reader) (*ability.User, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Data *ability.User `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}
	var user ability.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("ability: decode profile: %w", err)
	}
	return &user, nil
}

// Explain derives the ability and visible navigation for user.
func Explain(user *ability.User, opts ability.Options, tree *nav.Tree) Explanation {
	a := ability.BuildWithOptions(user, opts)
	return Explanation{
		User:     user,
		AllowAll: a.AllowsAll(),
		Rules:    a.Rules(),
		Landing:  tree.Landing(a, "/"),
		Nav:      tree.Build(a, ""),
	}
}

// Check parses "action:Subject" queries and answers each against user.
func Check(user *ability.User, opts ability.Options, queries []string) (map[string]bool, error) {
	a := ability.BuildWithOptions(user, opts)
	out := make(map[string]bool, len(queries))
	for _, q := range queries {
		action, subject, ok := strings.Cut(q, ":")
		if !ok || action == "" || subject == "" {
			return nil, fmt.Errorf("ability: query %q must be action:Subject", q)
		}
		out[q] = a.Can(action, subject)
	}
	return out, nil
}

// Print writes e as a human readable report.
func (e Explanation) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "user\t%s\n", e.User.Email)
	fmt.Fprintf(tw, "roles\t%s\n", strings.Join(e.User.RoleCodes(), ", "))
	fmt.Fprintf(tw, "landing\t%s\n", e.Landing)
	if e.AllowAll {
		fmt.Fprintln(tw, "access\teverything")
	} else {
		fmt.Fprintln(tw, "\nSUBJECT\tACTION\tSOURCE")
		for _, r := range e.Rules {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Subject, r.Action, r.Source)
		}
	}
	fmt.Fprintln(tw, "\nNAV\tITEMS")
	for _, g := range e.Nav {
		labels := make([]string, 0, len(g.Items))
		for _, it := range g.Items {
			labels = append(labels, it.Label)
		}
		fmt.Fprintf(tw, "%s\t%s\n", g.Label, strings.Join(labels, ", "))
	}
	return tw.Flush()
}
