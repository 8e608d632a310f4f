package rules

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// bag wraps a loosely typed parameter map decoded from JSON, YAML or a form.
type bag map[string]any

// lookup returns the first present key, trying aliases in order.
func (b bag) lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := b[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (b bag) has(keys ...string) bool {
	_, ok := b.lookup(keys...)
	return ok
}

func (b bag) str(keys ...string) (string, error) {
	v, ok := b.lookup(keys...)
	if !ok {
		return "", nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", keys[0], err)
	}
	return s, nil
}

func (b bag) boolean(keys ...string) (bool, error) {
	v, ok := b.lookup(keys...)
	if !ok {
		return false, nil
	}
	f, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", keys[0], err)
	}
	return f, nil
}

func (b bag) float(keys ...string) (*float64, error) {
	v, ok := b.lookup(keys...)
	if !ok {
		return nil, nil
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keys[0], err)
	}
	return &f, nil
}

func (b bag) strings(keys ...string) ([]string, error) {
	v, ok := b.lookup(keys...)
	if !ok {
		return nil, nil
	}
	if s, isStr := v.(string); isStr {
		return splitList(s), nil
	}
	out, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keys[0], err)
	}
	return out, nil
}

func (b bag) stringMap(keys ...string) (map[string]string, error) {
	v, ok := b.lookup(keys...)
	if !ok {
		return nil, nil
	}
	out, err := cast.ToStringMapStringE(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keys[0], err)
	}
	return out, nil
}

func toBag(v any) (bag, error) {
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, err
	}
	return bag(m), nil
}

// splitList accepts "a, b, c" as a column list, the way form inputs send it.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DecodeParams converts a loose parameter map into op's typed parameters.
// The field is needed for the single-column shorthand forms (filter min/max).
// Missing values decode to zero values; Check decides whether they are valid.
func DecodeParams(op Operation, field string, raw map[string]any) (Params, error) {
	b := bag(raw)
	if b == nil {
		b = bag{}
	}

	switch op {
	case OpTrim:
		return TrimParams{}, nil

	case OpRemoveNulls:
		cols, err := b.strings("columns")
		if err != nil {
			return nil, err
		}
		strict, err := b.boolean("strictMode", "strict")
		if err != nil {
			return nil, err
		}
		return RemoveNullsParams{Columns: cols, StrictMode: strict}, nil

	case OpReplace:
		if !b.has("pattern") {
			return nil, invalid("pattern is required")
		}
		if _, ok := b["replacement"]; !ok {
			return nil, invalid("replacement is required")
		}
		p := ReplaceParams{}
		var err error
		if p.Pattern, err = b.str("pattern"); err != nil {
			return nil, err
		}
		if p.Replacement, err = b.str("replacement"); err != nil {
			return nil, err
		}
		if p.Regex, err = b.boolean("regex", "isRegex"); err != nil {
			return nil, err
		}
		return p, nil

	case OpConvertType:
		p := ConvertTypeParams{}
		t, err := b.str("type", "targetType")
		if err != nil {
			return nil, err
		}
		p.Type = TargetType(strings.ToLower(t))
		if v, ok := b.lookup("fallbackValue", "fallback"); ok {
			p.Fallback = v
			p.HasFallback = true
		}
		if p.Format, err = b.str("format", "dateFormat"); err != nil {
			return nil, err
		}
		return p, nil

	case OpRename:
		p := RenameParams{}
		var err error
		if p.NewName, err = b.str("newName"); err != nil {
			return nil, err
		}
		if p.Mapping, err = b.stringMap("mapping"); err != nil {
			return nil, err
		}
		return p, nil

	case OpCategorize:
		return decodeCategorize(b)

	case OpHandleMissing:
		method, err := b.str("method", "strategy")
		if err != nil {
			return nil, err
		}
		cols, err := b.strings("columns")
		if err != nil {
			return nil, err
		}
		return MissingValuesParams{Method: ImputeMethod(strings.ToLower(method)), Columns: cols}, nil

	case OpNormalize:
		p := NormalizationParams{}
		var err error
		if p.MinValue, err = b.float("minValue", "min"); err != nil {
			return nil, err
		}
		if p.MaxValue, err = b.float("maxValue", "max"); err != nil {
			return nil, err
		}
		if p.AutoRange, err = b.boolean("autoRange"); err != nil {
			return nil, err
		}
		if p.ClipOutliers, err = b.boolean("clipOutliers"); err != nil {
			return nil, err
		}
		return p, nil

	case OpRegexReplace:
		if _, ok := b["replacement"]; !ok {
			return nil, invalid("replacement is required")
		}
		p := RegexReplaceParams{}
		var err error
		if p.Pattern, err = b.str("pattern", "regex"); err != nil {
			return nil, err
		}
		if p.Replacement, err = b.str("replacement"); err != nil {
			return nil, err
		}
		if p.CaseInsensitive, err = b.boolean("caseInsensitive", "ignoreCase"); err != nil {
			return nil, err
		}
		return p, nil

	case OpRemoveDuplicates:
		cols, err := b.strings("columns", "keyColumns")
		if err != nil {
			return nil, err
		}
		return DedupeParams{Columns: cols}, nil

	case OpFilterRecords:
		return decodeFilter(b, field)

	case OpConvertDateFormats:
		p := DateFormatParams{}
		var err error
		if p.Columns, err = b.strings("columns", "dateColumns"); err != nil {
			return nil, err
		}
		if p.Format, err = b.str("format", "targetFormat"); err != nil {
			return nil, err
		}
		if p.InputFormats, err = b.strings("inputFormats"); err != nil {
			return nil, err
		}
		return p, nil

	case OpStandardizeCodes:
		p := StandardizeParams{}
		var err error
		if p.MatchPattern, err = b.str("matchPattern", "pattern"); err != nil {
			return nil, err
		}
		if p.Replacement, err = b.str("replacement"); err != nil {
			return nil, err
		}
		if p.ValidPattern, err = b.str("validPattern"); err != nil {
			return nil, err
		}
		if p.Uppercase, err = b.boolean("uppercase"); err != nil {
			return nil, err
		}
		if p.Trim, err = b.boolean("trim"); err != nil {
			return nil, err
		}
		return p, nil

	case OpLogActions:
		format, err := b.str("format", "logFormat")
		if err != nil {
			return nil, err
		}
		msg, err := b.str("message", "action")
		if err != nil {
			return nil, err
		}
		return LogParams{Format: LogFormat(strings.ToLower(format)), Message: msg}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
}

func decodeCategorize(b bag) (Params, error) {
	raw, ok := b.lookup("ranges", "categories", "ageRanges")
	p := CategorizeParams{}
	if ok {
		items, err := cast.ToSliceE(raw)
		if err != nil {
			return nil, fmt.Errorf("ranges: %w", err)
		}
		for i, item := range items {
			rb, err := toBag(item)
			if err != nil {
				return nil, fmt.Errorf("ranges[%d]: %w", i, err)
			}
			r := Range{}
			if r.Label, err = rb.str("label", "name"); err != nil {
				return nil, err
			}
			if r.Min, err = rb.float("min"); err != nil {
				return nil, err
			}
			if r.Max, err = rb.float("max"); err != nil {
				return nil, err
			}
			p.Ranges = append(p.Ranges, r)
		}
	}

	var err error
	if p.Derive, err = b.boolean("derive", "bulk"); err != nil {
		return nil, err
	}
	if p.DefaultLabel, err = b.str("defaultLabel", "defaultCategory"); err != nil {
		return nil, err
	}
	if p.InvalidLabel, err = b.str("invalidLabel"); err != nil {
		return nil, err
	}
	return p, nil
}

// decodeFilter accepts {"criteria": {"Age": {"min": 0, "max": 120}}} or the
// single-column shorthand {"min": 0, "max": 120} applied to field.
func decodeFilter(b bag, field string) (Params, error) {
	p := FilterParams{Criteria: map[string]Bounds{}}

	if raw, ok := b.lookup("criteria"); ok {
		crit, err := toBag(raw)
		if err != nil {
			return nil, fmt.Errorf("criteria: %w", err)
		}
		for col, v := range crit {
			cb, err := toBag(v)
			if err != nil {
				return nil, fmt.Errorf("criteria[%s]: %w", col, err)
			}
			bounds, err := decodeBounds(cb)
			if err != nil {
				return nil, fmt.Errorf("criteria[%s]: %w", col, err)
			}
			p.Criteria[col] = bounds
		}
		return p, nil
	}

	if field != "" && b.has("min", "max", "minAge", "maxAge", "minValue", "maxValue") {
		bounds, err := decodeBounds(b)
		if err != nil {
			return nil, err
		}
		p.Criteria[field] = bounds
	}
	return p, nil
}

func decodeBounds(b bag) (Bounds, error) {
	lo, err := b.float("min", "minAge", "minValue")
	if err != nil {
		return Bounds{}, err
	}
	hi, err := b.float("max", "maxAge", "maxValue")
	if err != nil {
		return Bounds{}, err
	}
	return Bounds{Min: lo, Max: hi}, nil
}
