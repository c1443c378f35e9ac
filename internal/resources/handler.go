package resources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/backend"
	"github.com/ispdesk/portal/internal/rbac"
	"github.com/ispdesk/portal/internal/routegate"
	"github.com/ispdesk/portal/internal/routeid"
	"github.com/ispdesk/portal/internal/shared"
	"github.com/ispdesk/portal/internal/view"
)

// DefaultMaxUploadBytes caps logo and image uploads.
const DefaultMaxUploadBytes = 5 << 20

var allowedImageTypes = []string{"image/png", "image/jpeg", "image/webp", "image/gif"}

// Backend is the subset of the backend client used by resource pages.
type Backend interface {
	List(ctx context.Context, cookies []*http.Cookie, resource string, q backend.ListQuery) (*backend.ListResult, error)
	Get(ctx context.Context, cookies []*http.Cookie, resource, id string) (backend.Record, error)
	Create(ctx context.Context, cookies []*http.Cookie, resource string, payload map[string]any) (backend.Record, error)
	Update(ctx context.Context, cookies []*http.Cookie, resource, id string, payload map[string]any) (backend.Record, error)
	Delete(ctx context.Context, cookies []*http.Cookie, resource, id string) error
	Upload(ctx context.Context, cookies []*http.Cookie, up backend.UploadRequest) (string, error)
}

// Exporter renders a list page as CSV or PDF.
type Exporter interface {
	WriteCSV(w io.Writer, def Definition, items []backend.Record) error
	RenderPDF(ctx context.Context, def Definition, items []backend.Record) ([]byte, error)
}

// Options carries optional collaborators.
type Options struct {
	Exporter       Exporter
	MaxUploadBytes int64
	SecureCookies  bool
}

// Handler serves the generic CRUD pages for every registered resource.
type Handler struct {
	logger    *slog.Logger
	backend   Backend
	registry  *Registry
	routes    *routeid.Codec
	templates *view.Engine
	rbac      rbac.Middleware
	validator *validator.Validate
	exporter  Exporter
	maxUpload int64
	secure    bool
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, b Backend, registry *Registry, routes *routeid.Codec, templates *view.Engine, gate rbac.Middleware, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		logger:    logger.With(slog.String("component", "resources")),
		backend:   b,
		registry:  registry,
		routes:    routes,
		templates: templates,
		rbac:      gate,
		validator: validator.New(),
		exporter:  opts.Exporter,
		maxUpload: opts.MaxUploadBytes,
		secure:    opts.SecureCookies,
	}
}

// MountRoutes registers the pages of every resource under its UI path.
func (h *Handler) MountRoutes(r chi.Router) {
	for _, def := range h.registry.All() {
		r.Route(def.Path, func(r chi.Router) {
			h.mount(r, def)
		})
	}
}

func (h *Handler) mount(r chi.Router, def Definition) {
	read := h.rbac.Require(ability.ActionRead, def.Subject)
	create := h.rbac.Require(ability.ActionCreate, def.Subject)
	update := h.rbac.Require(ability.ActionUpdate, def.Subject)
	remove := h.rbac.Require(ability.ActionDelete, def.Subject)

	r.With(read).Get("/", h.list(def))
	if h.exporter != nil {
		r.With(read).Get("/export.csv", h.exportCSV(def))
		r.With(read).Get("/export.pdf", h.exportPDF(def))
	}
	r.With(create).Get("/new", h.newForm(def))
	r.With(create).Post("/", h.create(def))
	r.With(read).Get("/{ref}", h.show(def))
	r.With(update).Get("/{ref}/edit", h.editForm(def))
	r.With(update).Post("/{ref}", h.update(def))
	r.With(remove).Post("/{ref}/delete", h.delete(def))
	if def.Upload != nil {
		r.With(update).Post("/{ref}/upload", h.upload(def))
	}
}

// Row is one record prepared for a list table.
type Row struct {
	Ref    string
	Label  string
	Cells  []string
	Record backend.Record
}

type listPageData struct {
	Def        Definition
	Columns    []Field
	Rows       []Row
	Pagination shared.Pagination
	Query      string
	Failed     bool
	Exports    bool
}

type showPageData struct {
	Def    Definition
	Ref    string
	Label  string
	Record backend.Record
	Image  string
}

type formPageData struct {
	Def    Definition
	Ref    string
	Action string
	Values map[string]string
	Errors map[string]string
}

func (h *Handler) list(def Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, pagination, query, err := h.fetchPage(r, def)
		data := listPageData{Def: def, Columns: def.Columns(), Query: query, Pagination: pagination, Exports: h.exporter != nil}
		if err != nil {
			if h.redirectIfUnauthorized(w, r, err) {
				return
			}
			h.logger.Warn("list", slog.String("resource", def.Name), slog.Any("error", err))
			shared.AddFlash(r.Context(), shared.FlashError, backend.Message(err))
			data.Failed = true
		}
		data.Rows = h.rows(def, items)
		h.render(w, r, "pages/resource_list.html", def.Title, data, http.StatusOK)
	}
}

func (h *Handler) show(def Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ref, ok := h.decodeRef(w, r, def)
		if !ok {
			return
		}
		rec, err := h.backend.Get(r.Context(), backend.ForwardedCookies(r), def.Name, id)
		if err != nil {
			h.failRedirect(w, r, err, def.Path)
			return
		}
		data := showPageData{Def: def, Ref: ref, Label: def.RecordLabel(rec), Record: rec}
		if def.Upload != nil {
			data.Image = rec.String(def.Upload.Attribute)
		}
		h.render(w, r, "pages/resource_show.html", def.Singular+": "+data.Label, data, http.StatusOK)
	}
}

func (h *Handler) newForm(def Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := formPageData{Def: def, Action: def.Path, Values: map[string]string{}}
		h.render(w, r, "pages/resource_form.html", "New "+strings.ToLower(def.Singular), data, http.StatusOK)
	}
}

func (h *Handler) create(def Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, ok := h.parseForm(w, r, def)
		if !ok {
			return
		}
		data := formPageData{Def: def, Action: def.Path, Values: values}
		title := "New " + strings.ToLower(def.Singular)
		if data.Errors = def.Validate(h.validator, values); len(data.Errors) > 0 {
			h.render(w, r, "pages/resource_form.html", title, data, http.StatusUnprocessableEntity)
			return
		}
		rec, err := h.backend.Create(r.Context(), backend.ForwardedCookies(r), def.Name, def.Payload(values))
		if err != nil {
			h.failForm(w, r, err, title, data)
			return
		}
		shared.AddFlash(r.Context(), shared.FlashSuccess, def.Singular+" created")
		if id := rec.ID(); id != "" {
			http.Redirect(w, r, def.Path+"/"+h.routes.MustEncode(id), http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, def.Path, http.StatusSeeOther)
	}
}

func (h *Handler) editForm(def Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ref, ok := h.decodeRef(w, r, def)
		if !ok {
			return
		}
		rec, err := h.backend.Get(r.Context(), backend.ForwardedCookies(r), def.Name, id)
		if err != nil {
			h.failRedirect(w, r, err, def.Path)
			return
		}
		data := formPageData{Def: def, Ref: ref, Action: def.Path + "/" + ref, Values: def.FormValues(rec)}
		h.render(w, r, "pages/resource_form.html", "Edit "+def.RecordLabel(rec), data, http.StatusOK)
	}
}

func (h *Handler) update(def Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ref, ok := h.decodeRef(w, r, def)
		if !ok {
			return
		}
		values, ok := h.parseForm(w, r, def)
		if !ok {
			return
		}
		data := formPageData{Def: def, Ref: ref, Action: def.Path + "/" + ref, Values: values}
		title := "Edit " + strings.ToLower(def.Singular)
		if data.Errors = def.Validate(h.validator, values); len(data.Errors) > 0 {
			h.render(w, r, "pages/resource_form.html", title, data, http.StatusUnprocessableEntity)
			return
		}
		if _, err := h.backend.Update(r.Context(), backend.ForwardedCookies(r), def.Name, id, def.Payload(values)); err != nil {
			h.failForm(w, r, err, title, data)
			return
		}
		shared.AddFlash(r.Context(), shared.FlashSuccess, def.Singular+" updated")
		http.Redirect(w, r, def.Path+"/"+ref, http.StatusSeeOther)
	}
}

func (h *Handler) delete(def Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _, ok := h.decodeRef(w, r, def)
		if !ok {
			return
		}
		if err := h.backend.Delete(r.Context(), backend.ForwardedCookies(r), def.Name, id); err != nil {
			h.failRedirect(w, r, err, def.Path)
			return
		}
		shared.AddFlash(r.Context(), shared.FlashSuccess, def.Singular+" deleted")
		http.Redirect(w, r, def.Path, http.StatusSeeOther)
	}
}

func (h *Handler) upload(def Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ref, ok := h.decodeRef(w, r, def)
		if !ok {
			return
		}
		back := def.Path + "/" + ref
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
		if err := r.ParseMultipartForm(h.maxUpload); err != nil {
			h.flashRedirect(w, r, shared.FlashError, "The file is too large or malformed", back)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			h.flashRedirect(w, r, shared.FlashError, "Choose an image to upload", back)
			return
		}
		defer func() {
			_ = file.Close()
		}()
		content, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
		if err != nil || int64(len(content)) > h.maxUpload {
			h.flashRedirect(w, r, shared.FlashError, "The file is too large", back)
			return
		}
		mtype := mimetype.Detect(content)
		if !mimetype.EqualsAny(mtype.String(), allowedImageTypes...) {
			h.flashRedirect(w, r, shared.FlashError, "Only PNG, JPEG, WebP or GIF images are accepted", back)
			return
		}

		cookies := backend.ForwardedCookies(r)
		stored, err := h.backend.Upload(r.Context(), cookies, backend.UploadRequest{
			Path:        def.Upload.Endpoint(id),
			Field:       def.Upload.Field,
			Filename:    header.Filename,
			ContentType: mtype.String(),
			Body:        bytes.NewReader(content),
		})
		if err != nil {
			h.failRedirect(w, r, err, back)
			return
		}
		if _, err := h.backend.Update(r.Context(), cookies, def.Name, id, map[string]any{def.Upload.Attribute: stored}); err != nil {
			h.failRedirect(w, r, err, back)
			return
		}
		h.flashRedirect(w, r, shared.FlashSuccess, "Image updated", back)
	}
}

func (h *Handler) exportCSV(def Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, _, _, err := h.fetchPage(r, def)
		if err != nil {
			h.failRedirect(w, r, err, def.Path)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, def.Name))
		if err := h.exporter.WriteCSV(w, def, items); err != nil {
			h.logger.Error("export csv", slog.String("resource", def.Name), slog.Any("error", err))
		}
	}
}

func (h *Handler) exportPDF(def Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, _, _, err := h.fetchPage(r, def)
		if err != nil {
			h.failRedirect(w, r, err, def.Path)
			return
		}
		pdf, err := h.exporter.RenderPDF(r.Context(), def, items)
		if err != nil {
			h.logger.Warn("export pdf", slog.String("resource", def.Name), slog.Any("error", err))
			h.flashRedirect(w, r, shared.FlashError, "The PDF export is unavailable right now", def.Path)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, def.Name))
		_, _ = w.Write(pdf)
	}
}

func (h *Handler) fetchPage(r *http.Request, def Definition) ([]backend.Record, shared.Pagination, string, error) {
	page, perPage := shared.PageFromQuery(r.URL.Query())
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	res, err := h.backend.List(r.Context(), backend.ForwardedCookies(r), def.Name, backend.ListQuery{Page: page, Limit: perPage, Search: query})
	if err != nil {
		return nil, shared.NewPagination(page, perPage, 0), query, err
	}
	return res.Items, shared.NewPagination(page, perPage, res.Total), query, nil
}

func (h *Handler) rows(def Definition, items []backend.Record) []Row {
	columns := def.Columns()
	rows := make([]Row, 0, len(items))
	for _, rec := range items {
		row := Row{Label: def.RecordLabel(rec), Record: rec, Cells: make([]string, 0, len(columns))}
		if id := rec.ID(); id != "" {
			row.Ref = h.routes.MustEncode(id)
		}
		for _, col := range columns {
			row.Cells = append(row.Cells, rec.String(col.Name))
		}
		rows = append(rows, row)
	}
	return rows
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request, def Definition) (map[string]string, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, false
	}
	values := make(map[string]string, len(def.Fields))
	for _, f := range def.Fields {
		values[f.Name] = r.PostFormValue(f.Name)
	}
	return values, true
}

// decodeRef resolves the {ref} URL parameter; an invalid token is treated
// like a missing record.
func (h *Handler) decodeRef(w http.ResponseWriter, r *http.Request, def Definition) (id, ref string, ok bool) {
	ref = chi.URLParam(r, "ref")
	id, err := h.routes.Decode(ref)
	if err != nil {
		h.flashRedirect(w, r, shared.FlashError, backend.Message(backend.ErrNotFound), def.Path)
		return "", "", false
	}
	return id, ref, true
}

func (h *Handler) failForm(w http.ResponseWriter, r *http.Request, err error, title string, data formPageData) {
	if h.redirectIfUnauthorized(w, r, err) {
		return
	}
	var apiErr *backend.Error
	if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
		data.Errors = make(map[string]string, len(apiErr.Fields))
		for name, msg := range apiErr.Fields {
			data.Errors[name] = msg
		}
	}
	if len(data.Errors) == 0 {
		h.logger.Warn("save", slog.String("resource", data.Def.Name), slog.Any("error", err))
		shared.AddFlash(r.Context(), shared.FlashError, backend.Message(err))
	}
	status := http.StatusBadGateway
	if errors.Is(err, backend.ErrValidation) {
		status = http.StatusUnprocessableEntity
	}
	h.render(w, r, "pages/resource_form.html", title, data, status)
}

func (h *Handler) failRedirect(w http.ResponseWriter, r *http.Request, err error, target string) {
	if h.redirectIfUnauthorized(w, r, err) {
		return
	}
	if !errors.Is(err, backend.ErrNotFound) {
		h.logger.Warn("backend call", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	h.flashRedirect(w, r, shared.FlashError, backend.Message(err), target)
}

func (h *Handler) redirectIfUnauthorized(w http.ResponseWriter, r *http.Request, err error) bool {
	if !errors.Is(err, backend.ErrUnauthorized) {
		return false
	}
	rbac.ClearSessionCookies(w, h.secure)
	http.Redirect(w, r, routegate.LoginPath, http.StatusSeeOther)
	return true
}

func (h *Handler) flashRedirect(w http.ResponseWriter, r *http.Request, kind, message, target string) {
	shared.AddFlash(r.Context(), kind, message)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data any, status int) {
	if err := h.templates.Render(w, status, template, h.templates.Data(r, title, data)); err != nil {
		h.logger.Error("render template", slog.Any("error", err), slog.String("template", template))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
