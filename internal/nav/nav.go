// Package nav declares the portal's sidebar and filters it per user.
package nav

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed nav.yaml
var defaultTree []byte

// Checker answers capability queries; *ability.Ability satisfies it.
type Checker interface {
	Can(action, subject string) bool
}

// Item is a leaf link guarded by an (action, subject) pair.
type Item struct {
	Label   string `yaml:"label"`
	Path    string `yaml:"path"`
	Action  string `yaml:"action"`
	Subject string `yaml:"subject"`
}

// Group is a titled set of items with the paths that mark it active.
type Group struct {
	Key   string   `yaml:"key"`
	Label string   `yaml:"label"`
	Icon  string   `yaml:"icon"`
	Paths []string `yaml:"paths"`
	Items []Item   `yaml:"items"`
}

// Tree is the static navigation declaration.
type Tree struct {
	Groups []Group `yaml:"groups"`
}

// VisibleItem is an item the current user may see.
type VisibleItem struct {
	Label  string
	Path   string
	Active bool
}

// VisibleGroup is a group with at least one visible item.
type VisibleGroup struct {
	Key    string
	Label  string
	Icon   string
	Active bool
	Items  []VisibleItem
}

// Default returns the embedded navigation tree.
func Default() (*Tree, error) {
	return Parse(defaultTree)
}

// Parse decodes and validates a YAML navigation tree.
func Parse(data []byte) (*Tree, error) {
	var tree Tree
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("nav: parse: %w", err)
	}
	if err := tree.validate(); err != nil {
		return nil, err
	}
	return &tree, nil
}

func (t *Tree) validate() error {
	if len(t.Groups) == 0 {
		return errors.New("nav: no groups declared")
	}
	keys := make(map[string]struct{}, len(t.Groups))
	for _, g := range t.Groups {
		if g.Key == "" {
			return errors.New("nav: group key required")
		}
		if _, dup := keys[g.Key]; dup {
			return fmt.Errorf("nav: duplicate group %q", g.Key)
		}
		keys[g.Key] = struct{}{}
		if len(g.Items) == 0 {
			return fmt.Errorf("nav: group %q has no items", g.Key)
		}
		for _, it := range g.Items {
			if it.Path == "" || it.Action == "" || it.Subject == "" {
				return fmt.Errorf("nav: group %q has an incomplete item %q", g.Key, it.Label)
			}
		}
	}
	return nil
}

// Build filters the tree for checker and marks the entries matching
// currentPath. A nil checker hides everything.
func (t *Tree) Build(checker Checker, currentPath string) []VisibleGroup {
	if t == nil || checker == nil {
		return nil
	}
	var out []VisibleGroup
	for _, g := range t.Groups {
		var items []VisibleItem
		for _, it := range g.Items {
			if !checker.Can(it.Action, it.Subject) {
				continue
			}
			items = append(items, VisibleItem{
				Label:  it.Label,
				Path:   it.Path,
				Active: matchPath(currentPath, it.Path),
			})
		}
		if len(items) == 0 {
			continue
		}
		out = append(out, VisibleGroup{
			Key:    g.Key,
			Label:  g.Label,
			Icon:   g.Icon,
			Active: g.isActive(currentPath),
			Items:  items,
		})
	}
	return out
}

// Landing returns the first path checker may visit, or fallback when the
// user can see nothing.
func (t *Tree) Landing(checker Checker, fallback string) string {
	if groups := t.Build(checker, ""); len(groups) > 0 {
		return groups[0].Items[0].Path
	}
	return fallback
}

func (g Group) isActive(current string) bool {
	for _, p := range g.Paths {
		if matchPath(current, p) {
			return true
		}
	}
	return false
}

// matchPath is true for an exact match or when current lies under base.
func matchPath(current, base string) bool {
	if current == base {
		return true
	}
	if base == "/" || base == "" {
		return false
	}
	return strings.HasPrefix(current, strings.TrimRight(base, "/")+"/")
}
