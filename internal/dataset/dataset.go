// Package dataset holds the in-memory tabular model that cleaning rules
// operate on, plus the CSV parser and the CSV/JSON/TDE exporters.
//
// A Dataset is plain data: ordered headers, rows keyed by header name and a
// metadata snapshot. Cell values are restricted to four kinds (string,
// number, boolean, null) so every operation can reason about them without
// reflection. Numbers are always float64.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cast"
)

// Value is a single cell: nil, string, float64 or bool.
type Value = any

// Kind identifies the scalar kind of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return "null"
	}
}

// Row maps column name to value. A column absent from the map reads as null.
type Row map[string]Value

// Metadata is a snapshot describing where a dataset came from.
type Metadata struct {
	SourceName  string    `json:"sourceName" yaml:"sourceName"`
	RowCount    int       `json:"rowCount" yaml:"rowCount"`
	ColumnCount int       `json:"columnCount" yaml:"columnCount"`
	LoadedAt    time.Time `json:"loadedAt" yaml:"loadedAt"`
}

// Dataset is an ordered header list plus rows.
type Dataset struct {
	Headers  []string `json:"headers" yaml:"headers"`
	Rows     []Row    `json:"rows" yaml:"rows"`
	Metadata Metadata `json:"metadata" yaml:"metadata"`
}

// ErrInvalidDataset is returned by Validate for structurally unusable datasets.
var ErrInvalidDataset = errors.New("invalid dataset")

// New builds a dataset and takes its metadata snapshot.
func New(source string, headers []string, rows []Row) *Dataset {
	ds := &Dataset{
		Headers: headers,
		Rows:    rows,
		Metadata: Metadata{
			SourceName: source,
			LoadedAt:   time.Now().UTC(),
		},
	}
	if ds.Headers == nil {
		ds.Headers = []string{}
	}
	if ds.Rows == nil {
		ds.Rows = []Row{}
	}
	ds.Refresh()
	return ds
}

// Refresh recomputes the row and column counts in the metadata.
func (d *Dataset) Refresh() {
	d.Metadata.RowCount = len(d.Rows)
	d.Metadata.ColumnCount = len(d.Headers)
}

// Clone returns a deep copy. Values are scalars so copying the maps is enough.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	return &Dataset{
		Headers:  CloneHeaders(d.Headers),
		Rows:     CloneRows(d.Rows),
		Metadata: d.Metadata,
	}
}

// CloneHeaders copies a header slice.
func CloneHeaders(headers []string) []string {
	out := make([]string, len(headers))
	copy(out, headers)
	return out
}

// CloneRows deep-copies a row slice.
func CloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// Clone copies a single row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// HasColumn reports whether name is one of the headers.
func (d *Dataset) HasColumn(name string) bool {
	return IndexOf(d.Headers, name) >= 0
}

// IndexOf returns the position of name in headers, or -1.
func IndexOf(headers []string, name string) int {
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	return -1
}

// Validate checks that the dataset has headers and at least one row.
func (d *Dataset) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil dataset", ErrInvalidDataset)
	}
	if len(d.Headers) == 0 {
		return fmt.Errorf("%w: no headers", ErrInvalidDataset)
	}
	if len(d.Rows) == 0 {
		return fmt.Errorf("%w: no rows", ErrInvalidDataset)
	}
	return nil
}

// KindOf reports the scalar kind of v. Unknown types are reported as strings
// since Normalize would stringify them.
func KindOf(v Value) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case float64:
		return KindNumber
	case bool:
		return KindBool
	default:
		return KindString
	}
}

// IsNull reports whether v is null.
func IsNull(v Value) bool {
	return v == nil
}

// IsBlank reports whether v is null or the empty string.
func IsBlank(v Value) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// IsNaN reports whether v is a NaN number.
func IsNaN(v Value) bool {
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}

// Normalize coerces arbitrary decoded values (JSON, YAML, Go literals) into
// the four supported kinds. Integers become float64; anything else that is not
// a string, bool or nil is stringified.
func Normalize(v any) Value {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case bool:
		return t
	case float64:
		return t
	case float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return cast.ToFloat64(t)
	default:
		return cast.ToString(t)
	}
}

// NormalizeRow applies Normalize to every value of a row.
func NormalizeRow(r map[string]any) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = Normalize(v)
	}
	return out
}

// Format returns the canonical string form of a value: null is "", numbers use
// the shortest representation, booleans are "true"/"false".
func Format(v Value) string {
	if v == nil {
		return ""
	}
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return ""
	}
	return cast.ToString(v)
}
