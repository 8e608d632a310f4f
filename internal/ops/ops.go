// Package ops implements the cleaning operations. Every operation is a pure
// function from a table to a new table: it copies the rows it changes and never
// writes through to its input.
//
// Non-fatal problems (a value that would not convert, a missing column, an
// outlier) are reported through a Warner and never abort the operation.
// Returning an error means the operation could not run at all; the executor
// then discards its output.
package ops

import (
	"errors"
	"fmt"
	"sort"

	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

// ErrParams is returned when an operation receives parameters of the wrong type.
var ErrParams = errors.New("unexpected parameters")

// Table is the part of a dataset operations work on.
type Table struct {
	Headers []string
	Rows    []dataset.Row
}

// FromDataset copies a dataset's headers and rows into a table. Cells are
// normalized on the way in, so rows built from Go integer literals behave
// like parsed numbers.
func FromDataset(d *dataset.Dataset) Table {
	rows := make([]dataset.Row, len(d.Rows))
	for i, r := range d.Rows {
		rows[i] = dataset.NormalizeRow(r)
	}
	return Table{
		Headers: dataset.CloneHeaders(d.Headers),
		Rows:    rows,
	}
}

// Clone deep-copies the table.
func (t Table) Clone() Table {
	return Table{
		Headers: dataset.CloneHeaders(t.Headers),
		Rows:    dataset.CloneRows(t.Rows),
	}
}

// HasColumn reports whether name is a header.
func (t Table) HasColumn(name string) bool {
	return dataset.IndexOf(t.Headers, name) >= 0
}

// Warner receives non-fatal diagnostics.
type Warner interface {
	Warn(format string, args ...any)
}

// ActionLogger is implemented by Warners that also record logCleaningActions
// entries.
type ActionLogger interface {
	LogAction(action string, format rules.LogFormat)
}

// Warnings collects warning messages.
type Warnings []string

func (w *Warnings) Warn(format string, args ...any) {
	*w = append(*w, fmt.Sprintf(format, args...))
}

// Func is the signature shared by all operations.
type Func func(t Table, field string, p rules.Params, w Warner) (Table, error)

var registry = map[rules.Operation]Func{
	rules.OpTrim:               Trim,
	rules.OpReplace:            Replace,
	rules.OpRemoveNulls:        RemoveNulls,
	rules.OpConvertType:        ConvertType,
	rules.OpRename:             Rename,
	rules.OpCategorize:         Categorize,
	rules.OpHandleMissing:      HandleMissingValues,
	rules.OpNormalize:          Normalize,
	rules.OpRegexReplace:       RegexReplace,
	rules.OpRemoveDuplicates:   RemoveDuplicates,
	rules.OpFilterRecords:      FilterRecords,
	rules.OpConvertDateFormats: ConvertDateFormats,
	rules.OpStandardizeCodes:   StandardizeCodes,
	rules.OpLogActions:         LogActions,
}

// Lookup returns the implementation of op.
func Lookup(op rules.Operation) (Func, bool) {
	f, ok := registry[op]
	return f, ok
}

// Apply runs op against t. Missing parameters fall back to the operation's
// defaults.
func Apply(t Table, r rules.Rule, w Warner) (Table, error) {
	f, ok := Lookup(r.Operation)
	if !ok {
		return t, fmt.Errorf("%w: %q", rules.ErrUnknownOperation, r.Operation)
	}
	if w == nil {
		w = &Warnings{}
	}
	return f(t, r.Field, rules.ParamsOrDefault(r), w)
}

func paramsAs[P rules.Params](p rules.Params) (P, error) {
	v, ok := p.(P)
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: want %T, got %T", ErrParams, zero, p)
	}
	return v, nil
}

// requireColumn warns when a column is not among the headers.
func requireColumn(t Table, op rules.Operation, col string, w Warner) bool {
	if t.HasColumn(col) {
		return true
	}
	w.Warn("%s: column %q not found", op, col)
	return false
}

// mapColumn rewrites col in every row through fn. fn returns false to leave a
// cell untouched. Only changed rows are copied.
func mapColumn(t Table, col string, fn func(v dataset.Value) (dataset.Value, bool)) Table {
	rows := make([]dataset.Row, len(t.Rows))
	for i, r := range t.Rows {
		nv, changed := fn(r[col])
		if !changed {
			rows[i] = r
			continue
		}
		nr := r.Clone()
		nr[col] = nv
		rows[i] = nr
	}
	return Table{Headers: t.Headers, Rows: rows}
}

// mapStrings rewrites the string cells of col through fn.
func mapStrings(t Table, col string, fn func(s string) string) Table {
	return mapColumn(t, col, func(v dataset.Value) (dataset.Value, bool) {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out := fn(s)
		return out, out != s
	})
}

// keepRows returns the rows for which keep is true, preserving order.
func keepRows(t Table, keep func(r dataset.Row) bool) Table {
	rows := make([]dataset.Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return Table{Headers: t.Headers, Rows: rows}
}

// failures counts values an operation could not handle and reports them as a
// single warning.
type failures struct {
	count int
	first string
	row   int
}

func (f *failures) add(row int, v dataset.Value) {
	if f.count == 0 {
		f.first = dataset.Format(v)
		f.row = row + 1
	}
	f.count++
}

func (f *failures) report(w Warner, format string, args ...any) {
	if f.count == 0 {
		return
	}
	msg := fmt.Sprintf(format, args...)
	w.Warn("%s: %d value(s), first at row %d (%q)", msg, f.count, f.row, f.first)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
