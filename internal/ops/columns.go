package ops

import (
	"time"

	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

// ConvertType converts the cells of field to the target type. Nulls are left
// alone. Cells that fail to convert take the fallback value when one is set
// and are otherwise left unchanged.
func ConvertType(t Table, field string, p rules.Params, w Warner) (Table, error) {
	cp, err := paramsAs[rules.ConvertTypeParams](p)
	if err != nil {
		return t, err
	}
	if !requireColumn(t, rules.OpConvertType, field, w) {
		return t, nil
	}

	layout := ""
	if cp.Format != "" {
		if layout, err = rules.ResolveLayout(cp.Format); err != nil {
			return t, err
		}
	}

	var failed failures
	i := -1
	out := mapColumn(t, field, func(v dataset.Value) (dataset.Value, bool) {
		i++
		if dataset.IsNull(v) {
			return nil, false
		}
		nv, ok := convert(v, cp.Type, layout)
		if !ok {
			failed.add(i, v)
			if cp.HasFallback {
				return dataset.Normalize(cp.Fallback), true
			}
			return nil, false
		}
		return nv, true
	})
	failed.report(w, "%s: could not convert %q to %s", rules.OpConvertType, field, cp.Type)
	return out, nil
}

func convert(v dataset.Value, target rules.TargetType, layout string) (dataset.Value, bool) {
	switch target {
	case rules.TargetNumber:
		f, ok := StrictNumber(v)
		return f, ok
	case rules.TargetBoolean:
		return Truthy(v), true
	case rules.TargetString:
		return dataset.Format(v), true
	case rules.TargetDate:
		tm, hasClock, ok := ParseDate(dataset.Format(v))
		if !ok {
			return nil, false
		}
		if layout == "" {
			layout = "2006-01-02"
			if hasClock {
				layout = time.RFC3339
			}
		}
		return FormatDate(tm, layout), true
	default:
		return nil, false
	}
}

// mergedSuffix marks a renamed column whose name was already taken.
const mergedSuffix = "_merged"

// Rename renames columns simultaneously. The first column to claim a name
// keeps it; later claimants get a _merged suffix.
func Rename(t Table, field string, p rules.Params, w Warner) (Table, error) {
	rp, err := paramsAs[rules.RenameParams](p)
	if err != nil {
		return t, err
	}

	mapping := rp.Targets(field)
	for _, from := range sortedKeys(mapping) {
		requireColumn(t, rules.OpRename, from, w)
	}

	taken := make(map[string]bool, len(t.Headers))
	names := make(map[string]string, len(t.Headers))
	headers := make([]string, len(t.Headers))
	for i, h := range t.Headers {
		want := h
		if to, ok := mapping[h]; ok {
			want = to
		}
		name := want
		for taken[name] {
			name += mergedSuffix
		}
		if name != want {
			w.Warn("%s: column %q renamed to %q to avoid a collision", rules.OpRename, h, name)
		}
		taken[name] = true
		names[h] = name
		headers[i] = name
	}

	rows := make([]dataset.Row, len(t.Rows))
	for i, r := range t.Rows {
		nr := make(dataset.Row, len(r))
		for k, v := range r {
			if to, ok := names[k]; ok {
				nr[to] = v
			} else if !taken[k] {
				nr[k] = v
			}
		}
		rows[i] = nr
	}
	return Table{Headers: headers, Rows: rows}, nil
}

// Categorize labels the numeric cells of field with the first matching range.
// Numeric values outside every range get the unmatched label; non-numeric
// values (including blanks) get the invalid label.
func Categorize(t Table, field string, p rules.Params, w Warner) (Table, error) {
	cp, err := paramsAs[rules.CategorizeParams](p)
	if err != nil {
		return t, err
	}
	if !requireColumn(t, rules.OpCategorize, field, w) {
		return t, nil
	}

	outCol := cp.OutputColumn(field)
	headers := t.Headers
	if !t.HasColumn(outCol) {
		headers = append(dataset.CloneHeaders(t.Headers), outCol)
	}

	rows := make([]dataset.Row, len(t.Rows))
	for i, r := range t.Rows {
		nr := r.Clone()
		nr[outCol] = categorize(r[field], cp)
		rows[i] = nr
	}
	return Table{Headers: headers, Rows: rows}, nil
}

func categorize(v dataset.Value, p rules.CategorizeParams) string {
	f, ok := Numeric(v)
	if !ok {
		return p.Invalid()
	}
	for _, r := range p.Ranges {
		if r.Bounds().Contains(f) {
			return r.Label
		}
	}
	return p.Unmatched()
}

// ConvertDateFormats re-formats the date cells of the target columns. Blank
// cells are skipped; unparsable ones are left unchanged.
func ConvertDateFormats(t Table, field string, p rules.Params, w Warner) (Table, error) {
	dp, err := paramsAs[rules.DateFormatParams](p)
	if err != nil {
		return t, err
	}
	layout, err := rules.ResolveLayout(dp.Format)
	if err != nil {
		return t, err
	}
	inputs := resolveLayouts(dp.InputFormats)

	out := t
	for _, col := range dp.Targets(field) {
		if !requireColumn(out, rules.OpConvertDateFormats, col, w) {
			continue
		}
		var failed failures
		i := -1
		out = mapColumn(out, col, func(v dataset.Value) (dataset.Value, bool) {
			i++
			if dataset.IsBlank(v) {
				return nil, false
			}
			tm, _, ok := ParseDate(dataset.Format(v), inputs...)
			if !ok {
				failed.add(i, v)
				return nil, false
			}
			nv := FormatDate(tm, layout)
			return nv, nv != v
		})
		failed.report(w, "%s: unrecognized dates in %q", rules.OpConvertDateFormats, col)
	}
	return out, nil
}
