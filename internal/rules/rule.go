// Package rules defines cleaning rule instances, their typed parameters, the
// parameter validator and the rule-template catalog.
//
// A rule list is always a flat, ordered slice of Rule values. Parameters are a
// closed tagged union (one struct per Operation) so an operation never has to
// guess at the shape of its configuration. Rules decoded from JSON or YAML
// keep undecodable parameters as InvalidParams rather than failing the whole
// document, so one bad rule does not invalidate its neighbours.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one configured cleaning step.
type Rule struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Field     string    `json:"field" yaml:"field"`
	Operation Operation `json:"operation" yaml:"operation"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	Params    Params    `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// rawRule is the loose wire shape shared by the JSON and YAML decoders.
type rawRule struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Field      string         `json:"field" yaml:"field"`
	Column     string         `json:"column" yaml:"column"`
	Operation  string         `json:"operation" yaml:"operation"`
	Enabled    *bool          `json:"enabled" yaml:"enabled"`
	Parameters map[string]any `json:"parameters" yaml:"parameters"`
}

func (r rawRule) toRule() Rule {
	rule := Rule{
		ID:      r.ID,
		Name:    r.Name,
		Field:   r.Field,
		Enabled: r.Enabled == nil || *r.Enabled,
	}
	if rule.Field == "" {
		rule.Field = r.Column
	}

	op, err := ParseOperation(r.Operation)
	rule.Operation = op
	if err != nil {
		rule.Params = InvalidParams{Op: op, Raw: r.Parameters, Err: err}
		return rule
	}

	p, err := DecodeParams(op, rule.Field, r.Parameters)
	if err != nil {
		rule.Params = InvalidParams{Op: op, Raw: r.Parameters, Err: err}
		return rule
	}
	rule.Params = p
	return rule
}

// UnmarshalJSON decodes the flat wire form. Enabled defaults to true.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw rawRule
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = raw.toRule()
	return nil
}

// UnmarshalYAML decodes the same shape from YAML.
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	var raw rawRule
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*r = raw.toRule()
	return nil
}

// MarshalYAML writes parameters through their JSON form so both encodings
// use the same keys.
func (r Rule) MarshalYAML() (any, error) {
	params := map[string]any{}
	if r.Params != nil {
		data, err := json.Marshal(r.Params)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return nil, err
		}
	}
	return struct {
		ID         string         `yaml:"id"`
		Name       string         `yaml:"name"`
		Field      string         `yaml:"field"`
		Operation  Operation      `yaml:"operation"`
		Enabled    bool           `yaml:"enabled"`
		Parameters map[string]any `yaml:"parameters,omitempty"`
	}{r.ID, r.Name, r.Field, r.Operation, r.Enabled, params}, nil
}

// EnabledRules returns the enabled rules in their original order.
func EnabledRules(list []Rule) []Rule {
	out := make([]Rule, 0, len(list))
	for _, r := range list {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// ParamsOrDefault returns the rule's parameters, or the zero parameters of its
// operation when none were given.
func ParamsOrDefault(r Rule) Params {
	if r.Params != nil {
		return r.Params
	}
	return defaultParams(r.Operation)
}

// defaultParams is nil for operations that cannot run without parameters.
func defaultParams(op Operation) Params {
	switch op {
	case OpTrim:
		return TrimParams{}
	case OpRemoveNulls:
		return RemoveNullsParams{}
	case OpRemoveDuplicates:
		return DedupeParams{}
	case OpConvertDateFormats:
		return DateFormatParams{}
	case OpLogActions:
		return LogParams{}
	default:
		return nil
	}
}

// ---- Rule files ----

// FileFormat selects the encoding of a rule file.
type FileFormat string

const (
	FileJSON FileFormat = "json"
	FileYAML FileFormat = "yaml"
)

// FormatFromPath picks a FileFormat from a file extension, defaulting to JSON.
func FormatFromPath(path string) FileFormat {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return FileYAML
	}
	return FileJSON
}

// ruleFile accepts {"rules": [...]}, {"cleaningRules": [...]} or a bare list.
type ruleFile struct {
	Rules         []Rule `json:"rules" yaml:"rules"`
	CleaningRules []Rule `json:"cleaningRules" yaml:"cleaningRules"`
}

// ReadRules decodes a rule list in the given format.
func ReadRules(r io.Reader, format FileFormat) ([]Rule, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return []Rule{}, nil
	}

	var list []Rule
	switch format {
	case FileYAML:
		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "[") {
			err = yaml.Unmarshal(data, &list)
		} else {
			var f ruleFile
			err = yaml.Unmarshal(data, &f)
			list = append(f.Rules, f.CleaningRules...)
		}
	default:
		if strings.HasPrefix(trimmed, "[") {
			err = json.Unmarshal(data, &list)
		} else {
			var f ruleFile
			err = json.Unmarshal(data, &f)
			list = append(f.Rules, f.CleaningRules...)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if list == nil {
		list = []Rule{}
	}
	return list, nil
}

// ReadRulesFile reads a rule file from disk, choosing the decoder by extension.
func ReadRulesFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules: %w", err)
	}
	defer f.Close()
	return ReadRules(f, FormatFromPath(path))
}

// WriteRules encodes a rule list as {"rules": [...]}.
func WriteRules(w io.Writer, list []Rule, format FileFormat) error {
	if format == FileYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(map[string][]Rule{"rules": list}); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string][]Rule{"rules": list})
}

// ErrRuleNotFound is returned by list helpers when an id is absent.
var ErrRuleNotFound = errors.New("rule not found")

// IndexOf returns the position of the rule with id, or -1.
func IndexOf(list []Rule, id string) int {
	for i, r := range list {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Move returns a copy of list with the rule at from moved to position to.
func Move(list []Rule, id string, to int) ([]Rule, error) {
	from := IndexOf(list, id)
	if from < 0 {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if to < 0 {
		to = 0
	}
	if to >= len(list) {
		to = len(list) - 1
	}

	out := make([]Rule, 0, len(list))
	moved := list[from]
	for i, r := range list {
		if i != from {
			out = append(out, r)
		}
	}
	out = append(out[:to], append([]Rule{moved}, out[to:]...)...)
	return out, nil
}
