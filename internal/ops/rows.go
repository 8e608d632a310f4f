package ops

import (
	"strings"

	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

// missing reports whether a cell counts as missing for remove_nulls.
func missing(v dataset.Value, strict bool) bool {
	if dataset.IsBlank(v) || dataset.IsNaN(v) {
		return true
	}
	if strict {
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			return true
		}
	}
	return false
}

// RemoveNulls drops rows whose field, or any of the listed columns, is missing.
// A listed column that does not exist reads as null for every row.
func RemoveNulls(t Table, field string, p rules.Params, w Warner) (Table, error) {
	rp, err := paramsAs[rules.RemoveNullsParams](p)
	if err != nil {
		return t, err
	}

	cols := rp.Targets(field)
	for _, c := range cols {
		requireColumn(t, rules.OpRemoveNulls, c, w)
	}

	return keepRows(t, func(r dataset.Row) bool {
		for _, c := range cols {
			if missing(r[c], rp.StrictMode) {
				return false
			}
		}
		return true
	}), nil
}

// dedupeSeparator joins key values.
const dedupeSeparator = "|"

// RemoveDuplicates keeps the first row for each distinct key. The key is the
// canonical string form of the key columns, or of every column when none are
// given.
func RemoveDuplicates(t Table, _ string, p rules.Params, w Warner) (Table, error) {
	dp, err := paramsAs[rules.DedupeParams](p)
	if err != nil {
		return t, err
	}

	cols := dp.Columns
	if len(cols) == 0 {
		cols = t.Headers
	}
	for _, c := range cols {
		requireColumn(t, rules.OpRemoveDuplicates, c, w)
	}

	seen := make(map[string]struct{}, len(t.Rows))
	parts := make([]string, len(cols))
	return keepRows(t, func(r dataset.Row) bool {
		for i, c := range cols {
			parts[i] = dataset.Format(r[c])
		}
		key := strings.Join(parts, dedupeSeparator)
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
		return true
	}), nil
}

// FilterRecords keeps rows whose criteria columns are numeric and within
// their inclusive bounds.
func FilterRecords(t Table, _ string, p rules.Params, w Warner) (Table, error) {
	fp, err := paramsAs[rules.FilterParams](p)
	if err != nil {
		return t, err
	}

	cols := sortedKeys(fp.Criteria)
	for _, c := range cols {
		requireColumn(t, rules.OpFilterRecords, c, w)
	}

	return keepRows(t, func(r dataset.Row) bool {
		for _, c := range cols {
			v, ok := Numeric(r[c])
			if !ok || !fp.Criteria[c].Contains(v) {
				return false
			}
		}
		return true
	}), nil
}
