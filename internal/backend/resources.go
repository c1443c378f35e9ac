package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Backend resource names. Each is served by the uniform CRUD convention.
const (
	ResourceClient         = "client"
	ResourceEmployee       = "employee"
	ResourceEquipment      = "equipment"
	ResourceInstallation   = "installation"
	ResourcePayment        = "payment"
	ResourcePermission     = "permission"
	ResourcePlan           = "plan"
	ResourceResource       = "resource"
	ResourceRole           = "role"
	ResourceSector         = "sector"
	ResourceService        = "service"
	ResourceSubscription   = "subscription"
	ResourceTicket         = "ticket"
	ResourceUser           = "user"
	ResourceActor          = "actor"
	ResourcePerson         = "person"
	ResourceOrganization   = "organization"
	ResourceUserRole       = "user-role"
	ResourceRolePermission = "role-permission"
)

// Resources lists every backend resource in declaration order.
func Resources() []string {
	return []string{
		ResourceClient, ResourceEmployee, ResourceEquipment, ResourceInstallation,
		ResourcePayment, ResourcePermission, ResourcePlan, ResourceResource,
		ResourceRole, ResourceSector, ResourceService, ResourceSubscription,
		ResourceTicket, ResourceUser, ResourceActor, ResourcePerson,
		ResourceOrganization, ResourceUserRole, ResourceRolePermission,
	}
}

// Record is a resource row as returned by the backend.
type Record map[string]any

// ID returns the record identifier as a string.
func (r Record) ID() string {
	return r.String("id")
}

// String renders the named field for display.
func (r Record) String(field string) string {
	value, ok := r.Lookup(field)
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(raw)
}

// Lookup resolves dotted paths such as "actor.display_name".
func (r Record) Lookup(field string) (any, bool) {
	var current any = map[string]any(r)
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// ListQuery controls paging and filtering of list calls.
type ListQuery struct {
	Page   int
	Limit  int
	Search string
	Filter map[string]string
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		v.Set("search", s)
	}
	for key, value := range q.Filter {
		if value != "" {
			v.Set(key, value)
		}
	}
	return v
}

// ListResult is one page of records.
type ListResult struct {
	Items []Record
	Total int
	Page  int
	Limit int
}

type listEnvelope struct {
	Data  []Record `json:"data"`
	Items []Record `json:"items"`
	Total *int     `json:"total"`
	Meta  struct {
		Total int `json:"total"`
		Page  int `json:"page"`
		Limit int `json:"limit"`
	} `json:"meta"`
}

// List fetches GET /{resource}.
func (c *Client) List(ctx context.Context, cookies []*http.Cookie, resource string, q ListQuery) (*ListResult, error) {
	resp, err := c.send(ctx, request{method: http.MethodGet, path: "/" + resource, query: q.values(), cookies: cookies})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: read list: %w", err)
	}
	return decodeList(raw, q)
}

func decodeList(raw []byte, q ListQuery) (*ListResult, error) {
	result := &ListResult{Page: q.Page, Limit: q.Limit}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(raw, &result.Items); err != nil {
			return nil, fmt.Errorf("backend: decode list: %w", err)
		}
		result.Total = len(result.Items)
		return result, nil
	}
	var env listEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("backend: decode list: %w", err)
	}
	result.Items = env.Data
	if result.Items == nil {
		result.Items = env.Items
	}
	switch {
	case env.Meta.Total > 0:
		result.Total = env.Meta.Total
	case env.Total != nil:
		result.Total = *env.Total
	default:
		result.Total = len(result.Items)
	}
	if env.Meta.Page > 0 {
		result.Page = env.Meta.Page
	}
	if env.Meta.Limit > 0 {
		result.Limit = env.Meta.Limit
	}
	return result, nil
}

// Get fetches GET /{resource}/{id}.
func (c *Client) Get(ctx context.Context, cookies []*http.Cookie, resource, id string) (Record, error) {
	var rec Record
	if err := c.sendJSON(ctx, http.MethodGet, recordPath(resource, id), cookies, nil, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Create posts a new record to POST /{resource}.
func (c *Client) Create(ctx context.Context, cookies []*http.Cookie, resource string, payload map[string]any) (Record, error) {
	var rec Record
	if err := c.sendJSON(ctx, http.MethodPost, "/"+resource, cookies, payload, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update patches PATCH /{resource}/{id}.
func (c *Client) Update(ctx context.Context, cookies []*http.Cookie, resource, id string, payload map[string]any) (Record, error) {
	var rec Record
	if err := c.sendJSON(ctx, http.MethodPatch, recordPath(resource, id), cookies, payload, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes DELETE /{resource}/{id}.
func (c *Client) Delete(ctx context.Context, cookies []*http.Cookie, resource, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, recordPath(resource, id), cookies, nil, nil)
}

func recordPath(resource, id string) string {
	return "/" + resource + "/" + url.PathEscape(id)
}
