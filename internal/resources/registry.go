// Package resources serves every CRUD page of the portal from one
// declarative registry and one generic handler.
package resources

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/backend"
)

//go:embed resources.yaml
var defaultRegistry []byte

// FieldKind selects the form control and payload encoding of a field.
type FieldKind string

// Field kinds.
const (
	KindText     FieldKind = "text"
	KindEmail    FieldKind = "email"
	KindNumber   FieldKind = "number"
	KindDate     FieldKind = "date"
	KindSelect   FieldKind = "select"
	KindTextarea FieldKind = "textarea"
	KindPassword FieldKind = "password"
)

var knownKinds = []FieldKind{KindText, KindEmail, KindNumber, KindDate, KindSelect, KindTextarea, KindPassword}

// Field is one attribute of a resource.
type Field struct {
	Name    string    `yaml:"name"`
	Label   string    `yaml:"label"`
	Kind    FieldKind `yaml:"kind"`
	Rules   string    `yaml:"rules"`
	Options []string  `yaml:"options"`
	List    bool      `yaml:"list"`
}

// Required reports whether the rules demand a value.
func (f Field) Required() bool {
	return slices.Contains(strings.Split(f.Rules, ","), "required")
}

// Upload describes the image endpoint of a resource.
type Upload struct {
	Path      string `yaml:"path"`
	Field     string `yaml:"field"`
	Attribute string `yaml:"attribute"`
}

// Endpoint returns the backend upload path for record id.
func (u Upload) Endpoint(id string) string {
	return strings.ReplaceAll(u.Path, "{id}", id)
}

// Definition declares one backend resource and its pages.
type Definition struct {
	Name     string  `yaml:"name"`
	Path     string  `yaml:"path"`
	Title    string  `yaml:"title"`
	Singular string  `yaml:"singular"`
	Subject  string  `yaml:"subject"`
	Label    string  `yaml:"label"`
	Upload   *Upload `yaml:"upload"`
	Fields   []Field `yaml:"fields"`
}

// Columns returns the fields shown in list tables.
func (d Definition) Columns() []Field {
	var out []Field
	for _, f := range d.Fields {
		if f.List {
			out = append(out, f)
		}
	}
	return out
}

// Field looks up a field by name.
func (d Definition) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate applies the field rules to submitted values and returns inline
// errors keyed by field name.
func (d Definition) Validate(v *validator.Validate, values map[string]string) map[string]string {
	errs := make(map[string]string)
	for _, f := range d.Fields {
		if f.Rules == "" {
			continue
		}
		if err := v.Var(values[f.Name], f.Rules); err != nil {
			var fieldErrs validator.ValidationErrors
			if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
				errs[f.Name] = fieldMessage(f, fieldErrs[0])
			} else {
				errs[f.Name] = f.Label + " is invalid"
			}
		}
	}
	return errs
}

// Payload converts submitted form values into a backend payload. Empty
// optional values are omitted; numbers are sent as JSON numbers.
func (d Definition) Payload(values map[string]string) map[string]any {
	payload := make(map[string]any, len(d.Fields))
	for _, f := range d.Fields {
		raw := strings.TrimSpace(values[f.Name])
		if raw == "" {
			continue
		}
		switch f.Kind {
		case KindNumber:
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				payload[f.Name] = n
			} else if x, err := strconv.ParseFloat(raw, 64); err == nil {
				payload[f.Name] = x
			} else {
				payload[f.Name] = raw
			}
		case KindPassword:
			payload[f.Name] = values[f.Name]
		default:
			payload[f.Name] = raw
		}
	}
	return payload
}

// FormValues flattens a record into form values. Passwords are never
// echoed back.
func (d Definition) FormValues(rec backend.Record) map[string]string {
	values := make(map[string]string, len(d.Fields))
	for _, f := range d.Fields {
		if f.Kind == KindPassword {
			continue
		}
		value := rec.String(f.Name)
		if f.Kind == KindDate && len(value) > 10 {
			value = value[:10]
		}
		values[f.Name] = value
	}
	return values
}

// RecordLabel returns the human label of rec.
func (d Definition) RecordLabel(rec backend.Record) string {
	if label := rec.String(d.Label); label != "" {
		return label
	}
	return d.Singular + " #" + rec.ID()
}

func fieldMessage(f Field, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return f.Label + " is required"
	case "email":
		return "Enter a valid email address"
	case "numeric":
		return f.Label + " must be a number"
	case "oneof":
		return f.Label + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		return f.Label + " must be at most " + fe.Param() + " characters"
	case "min":
		return f.Label + " must be at least " + fe.Param() + " characters"
	case "datetime":
		return f.Label + " must be a date (YYYY-MM-DD)"
	case "mac":
		return "Enter a valid MAC address"
	}
	return f.Label + " is invalid"
}

// Registry indexes definitions by backend name and UI path.
type Registry struct {
	defs   []Definition
	byName map[string]int
}

type registryDocument struct {
	Resources []Definition `yaml:"resources"`
}

// Default returns the embedded registry.
func Default() (*Registry, error) {
	return Parse(defaultRegistry)
}

// Parse decodes and validates a YAML registry.
func Parse(data []byte) (*Registry, error) {
	var doc registryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("resources: parse: %w", err)
	}
	reg := &Registry{defs: doc.Resources, byName: make(map[string]int, len(doc.Resources))}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// All returns the definitions in declaration order.
func (r *Registry) All() []Definition {
	return slices.Clone(r.defs)
}

// Lookup returns the definition for a backend resource name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

func (r *Registry) validate() error {
	if len(r.defs) == 0 {
		return errors.New("resources: no resources declared")
	}
	v := validator.New()
	paths := make(map[string]struct{}, len(r.defs))
	for i, d := range r.defs {
		if !slices.Contains(backend.Resources(), d.Name) {
			return fmt.Errorf("resources: unknown backend resource %q", d.Name)
		}
		if _, dup := r.byName[d.Name]; dup {
			return fmt.Errorf("resources: duplicate resource %q", d.Name)
		}
		r.byName[d.Name] = i
		if !strings.HasPrefix(d.Path, "/") {
			return fmt.Errorf("resources: %s: path must start with /", d.Name)
		}
		if _, dup := paths[d.Path]; dup {
			return fmt.Errorf("resources: duplicate path %q", d.Path)
		}
		paths[d.Path] = struct{}{}
		if !slices.Contains(ability.Subjects(), d.Subject) {
			return fmt.Errorf("resources: %s: unknown subject %q", d.Name, d.Subject)
		}
		if len(d.Fields) == 0 {
			return fmt.Errorf("resources: %s: no fields", d.Name)
		}
		for _, f := range d.Fields {
			if f.Name == "" || f.Label == "" {
				return fmt.Errorf("resources: %s: field name and label required", d.Name)
			}
			if !slices.Contains(knownKinds, f.Kind) {
				return fmt.Errorf("resources: %s.%s: unknown kind %q", d.Name, f.Name, f.Kind)
			}
			if err := checkRules(v, f.Rules); err != nil {
				return fmt.Errorf("resources: %s.%s: %w", d.Name, f.Name, err)
			}
		}
		if d.Upload != nil && (d.Upload.Path == "" || d.Upload.Attribute == "") {
			return fmt.Errorf("resources: %s: upload needs path and attribute", d.Name)
		}
	}
	return nil
}

// checkRules rejects tags the validator does not know; Var panics on them.
func checkRules(v *validator.Validate, rules string) (err error) {
	if rules == "" {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("invalid rules %q: %v", rules, rec)
		}
	}()
	_ = v.Var("", rules)
	return nil
}
