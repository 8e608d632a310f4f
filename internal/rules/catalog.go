package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ErrUnknownTemplate is returned when a template id is not in the catalog.
var ErrUnknownTemplate = errors.New("unknown template")

// ParameterSchema describes one parameter of a rule template.
type ParameterSchema struct {
	Type        string   `json:"type" yaml:"type"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Options     []string `json:"options,omitempty" yaml:"options,omitempty"`
	Default     any      `json:"default,omitempty" yaml:"default,omitempty"`
	Min         *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Template is a catalog entry users pick from to create a rule.
type Template struct {
	ID          string                     `json:"id" yaml:"id"`
	Name        string                     `json:"name" yaml:"name"`
	Operation   Operation                  `json:"operation" yaml:"operation"`
	Description string                     `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool                       `json:"enabled" yaml:"enabled"`
	Parameters  map[string]ParameterSchema `json:"parameters" yaml:"parameters"`
}

// ParameterNames returns the template's parameter names sorted, required first.
func (t Template) ParameterNames() []string {
	names := make([]string, 0, len(t.Parameters))
	for n := range t.Parameters {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := t.Parameters[names[i]].Required, t.Parameters[names[j]].Required
		if ri != rj {
			return ri
		}
		return names[i] < names[j]
	})
	return names
}

// Defaults returns the schema default of every parameter that has one.
func (t Template) Defaults() map[string]any {
	out := make(map[string]any)
	for name, s := range t.Parameters {
		if s.Default != nil {
			out[name] = s.Default
		}
	}
	return out
}

// CheckParameters validates values against the template's schema: required
// values present and non-empty, numbers within min/max, arrays and objects of
// the right shape, and values drawn from options when options are listed.
func (t Template) CheckParameters(values map[string]any) error {
	var errs []string
	for _, name := range t.ParameterNames() {
		s := t.Parameters[name]
		v, present := values[name]
		if !present || v == nil || v == "" {
			if s.Required {
				errs = append(errs, fmt.Sprintf("%s is required", name))
			}
			continue
		}

		switch strings.ToLower(s.Type) {
		case "number":
			f, err := cast.ToFloat64E(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s must be a number", name))
				continue
			}
			if s.Min != nil && f < *s.Min {
				errs = append(errs, fmt.Sprintf("%s must be >= %v", name, *s.Min))
			}
			if s.Max != nil && f > *s.Max {
				errs = append(errs, fmt.Sprintf("%s must be <= %v", name, *s.Max))
			}
		case "boolean":
			if _, err := cast.ToBoolE(v); err != nil {
				errs = append(errs, fmt.Sprintf("%s must be a boolean", name))
			}
		case "array":
			if k := reflect.ValueOf(v).Kind(); k != reflect.Slice && k != reflect.Array {
				errs = append(errs, fmt.Sprintf("%s must be a list", name))
			}
		case "object":
			if reflect.ValueOf(v).Kind() != reflect.Map {
				errs = append(errs, fmt.Sprintf("%s must be an object", name))
			}
		}

		if len(s.Options) > 0 {
			sv := cast.ToString(v)
			ok := false
			for _, o := range s.Options {
				if o == sv {
					ok = true
					break
				}
			}
			if !ok {
				errs = append(errs, fmt.Sprintf("%s must be one of %s", name, strings.Join(s.Options, ", ")))
			}
		}
	}

	if len(errs) > 0 {
		return invalid("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Catalog is an ordered, read-only set of templates.
type Catalog struct {
	templates []Template
	byID      map[string]int
}

type catalogFile struct {
	CleaningRules []Template `json:"cleaningRules" yaml:"cleaningRules"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalog), FileYAML)
}

// LoadCatalogFile loads a catalog from disk, choosing the decoder by extension.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f, FormatFromPath(path))
}

// LoadCatalog decodes {"cleaningRules": [...]}. A template without an
// operation takes it from its id (template ids double as operation aliases).
func LoadCatalog(r io.Reader, format FileFormat) (*Catalog, error) {
	var file catalogFile
	var err error
	if format == FileYAML {
		err = yaml.NewDecoder(r).Decode(&file)
	} else {
		err = json.NewDecoder(r).Decode(&file)
	}
	if err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]int, len(file.CleaningRules))}
	for _, t := range file.CleaningRules {
		if t.ID == "" {
			return nil, fmt.Errorf("decode catalog: template without id")
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("decode catalog: duplicate template %q", t.ID)
		}

		name := string(t.Operation)
		if name == "" {
			name = t.ID
		}
		op, err := ParseOperation(name)
		if err != nil {
			return nil, fmt.Errorf("decode catalog: template %q: %w", t.ID, err)
		}
		t.Operation = op
		if t.Parameters == nil {
			t.Parameters = map[string]ParameterSchema{}
		}

		c.byID[t.ID] = len(c.templates)
		c.templates = append(c.templates, t)
	}
	return c, nil
}

// Templates returns the templates in catalog order.
func (c *Catalog) Templates() []Template {
	out := make([]Template, len(c.templates))
	copy(out, c.templates)
	return out
}

// Template looks up a template by id.
func (c *Catalog) Template(id string) (Template, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Template{}, false
	}
	return c.templates[i], true
}

// Len returns the number of templates.
func (c *Catalog) Len() int {
	return len(c.templates)
}

// NewRule instantiates a template on field. Values override the schema
// defaults. The rule is enabled, named "<template> on <field>" and gets a
// unique id prefixed with the template id.
func (c *Catalog) NewRule(templateID, field string, values map[string]any) (Rule, error) {
	t, ok := c.Template(templateID)
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}

	merged := t.Defaults()
	for k, v := range values {
		merged[k] = v
	}
	if err := t.CheckParameters(merged); err != nil {
		return Rule{}, err
	}

	params, err := DecodeParams(t.Operation, field, merged)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	name := t.Name
	if field != "" {
		name = fmt.Sprintf("%s on %s", t.Name, field)
	}
	rule := Rule{
		ID:        fmt.Sprintf("%s_%s", t.ID, uuid.NewString()),
		Name:      name,
		Field:     field,
		Operation: t.Operation,
		Enabled:   true,
		Params:    params,
	}
	if err := Check(rule); err != nil {
		return Rule{}, err
	}
	return rule, nil
}
