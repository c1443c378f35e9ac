package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/backend"
	"github.com/ispdesk/portal/internal/nav"
	"github.com/ispdesk/portal/internal/rbac"
	"github.com/ispdesk/portal/internal/routeid"
	"github.com/ispdesk/portal/internal/shared"
	"github.com/ispdesk/portal/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
	nav       *nav.Tree
	csrf      *shared.CSRFManager
}

// Options configure the engine.
type Options struct {
	Nav          *nav.Tree
	CSRF         *shared.CSRFManager
	Routes       *routeid.Codec
	AssetBaseURL string
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flashes     []shared.FlashMessage
	CurrentPath string
	User        *ability.User
	Ability     *ability.Ability
	Nav         []nav.VisibleGroup
	Data        any
}

// NewEngine parses templates at build-time.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Nav == nil {
		tree, err := nav.Default()
		if err != nil {
			return nil, err
		}
		opts.Nav = tree
	}
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"ref": func(id string) (string, error) {
			if opts.Routes == nil {
				return url.PathEscape(id), nil
			}
			return opts.Routes.Encode(id)
		},
		"asset": func(stored string) string {
			return backend.AssetURL(opts.AssetBaseURL, stored)
		},
		"field": func(rec backend.Record, name string) string {
			return rec.String(name)
		},
		"pageURL": func(path string, page int, query string) string {
			v := url.Values{"page": {strconv.Itoa(page)}}
			if query != "" {
				v.Set("q", query)
			}
			return path + "?" + v.Encode()
		},
	}
	for name, fn := range rbac.FuncMap(nil) {
		funcMap[name] = fn
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl, nav: opts.Nav, csrf: opts.CSRF}, nil
}

// Data assembles TemplateData for the request: CSRF token, pending
// toasts, profile, ability and the navigation visible to it.
func (e *Engine) Data(r *http.Request, title string, data any) TemplateData {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	td := TemplateData{
		Title:       title,
		CurrentPath: r.URL.Path,
		User:        rbac.UserFromContext(ctx),
		Ability:     rbac.AbilityFromContext(ctx),
		Data:        data,
	}
	if sess != nil {
		if e.csrf != nil {
			td.CSRFToken, _ = e.csrf.EnsureToken(sess)
		}
		td.Flashes = sess.PopFlashes()
	}
	if e.nav != nil && td.User != nil {
		td.Nav = e.nav.Build(td.Ability, r.URL.Path)
	}
	return td
}

// Render executes a named template with TemplateData and writes it with
// status. Output is buffered so template errors never leave a partial page.
func (e *Engine) Render(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	tpl, err := e.templates.Clone()
	if err != nil {
		return err
	}
	tpl.Funcs(rbac.FuncMap(data.Ability))

	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err = buf.WriteTo(w)
	return err
}

// Landing returns the first navigation path visible to a.
func (e *Engine) Landing(a *ability.Ability) string {
	if e == nil || e.nav == nil {
		return "/"
	}
	return e.nav.Landing(a, "/")
}
