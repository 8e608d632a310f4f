package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidParams wraps every parameter validation failure.
var ErrInvalidParams = errors.New("invalid parameters")

// Params is the typed parameter set of a rule. Each operation has exactly one
// concrete type; InvalidParams carries parameters that failed to decode.
type Params interface {
	Operation() Operation
	validate(field string) error
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}

// Bounds is an inclusive numeric interval. A nil side is unbounded.
type Bounds struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Contains reports whether v lies within the bounds.
func (b Bounds) Contains(v float64) bool {
	if b.Min != nil && v < *b.Min {
		return false
	}
	if b.Max != nil && v > *b.Max {
		return false
	}
	return true
}

func (b Bounds) check() error {
	if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
		return fmt.Errorf("min %v is greater than max %v", *b.Min, *b.Max)
	}
	return nil
}

// Float returns a pointer to f, for building Bounds literals.
func Float(f float64) *float64 {
	return &f
}

// ---- Trim / remove nulls ----

// TrimParams has no fields.
type TrimParams struct{}

func (TrimParams) Operation() Operation    { return OpTrim }
func (TrimParams) validate(f string) error { return requireField(OpTrim, f) }

// RemoveNullsParams selects the field form (no columns) or the column-list
// form. StrictMode additionally treats whitespace-only strings as missing.
type RemoveNullsParams struct {
	Columns    []string `json:"columns,omitempty"`
	StrictMode bool     `json:"strictMode,omitempty"`
}

func (RemoveNullsParams) Operation() Operation { return OpRemoveNulls }

func (p RemoveNullsParams) validate(field string) error {
	if len(p.Columns) == 0 {
		return requireField(OpRemoveNulls, field)
	}
	for _, c := range p.Columns {
		if strings.TrimSpace(c) == "" {
			return invalid("columns must not contain empty names")
		}
	}
	return nil
}

// Targets returns the columns checked for missing values.
func (p RemoveNullsParams) Targets(field string) []string {
	if len(p.Columns) > 0 {
		return p.Columns
	}
	return []string{field}
}

// ---- Replace ----

// ReplaceParams replaces text in the target field. The pattern is a regular
// expression when Regex is set or when it is written as /expr/flags; otherwise
// it is matched literally.
type ReplaceParams struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Regex       bool   `json:"regex,omitempty"`
}

func (ReplaceParams) Operation() Operation { return OpReplace }

func (p ReplaceParams) validate(field string) error {
	if err := requireField(OpReplace, field); err != nil {
		return err
	}
	if p.Pattern == "" {
		return invalid("pattern is required")
	}
	if _, err := p.Matcher(); err != nil {
		return invalid("pattern: %v", err)
	}
	return nil
}

// Matcher returns the compiled expression, or nil for a literal pattern.
func (p ReplaceParams) Matcher() (*regexp.Regexp, error) {
	if expr, flags, ok := splitSlashPattern(p.Pattern); ok {
		return regexp.Compile(flags + expr)
	}
	if p.Regex {
		return regexp.Compile(p.Pattern)
	}
	return nil, nil
}

// splitSlashPattern recognizes /expr/flags. Unknown flags mean the pattern is
// a literal that merely contains slashes.
func splitSlashPattern(s string) (expr, flags string, ok bool) {
	if len(s) < 3 || s[0] != '/' {
		return "", "", false
	}
	end := strings.LastIndexByte(s, '/')
	if end <= 0 {
		return "", "", false
	}
	var b strings.Builder
	for _, f := range s[end+1:] {
		switch f {
		case 'g', 'u':
			// global is implied, unicode is the default
		case 'i', 'm', 's':
			b.WriteRune(f)
		default:
			return "", "", false
		}
	}
	if b.Len() > 0 {
		flags = "(?" + b.String() + ")"
	}
	return s[1:end], flags, true
}

// ---- Convert type ----

// TargetType is the destination kind of convert_type.
type TargetType string

const (
	TargetNumber  TargetType = "number"
	TargetBoolean TargetType = "boolean"
	TargetString  TargetType = "string"
	TargetDate    TargetType = "date"
)

// ConvertTypeParams converts the field to Type. When HasFallback is set,
// values that fail to convert become Fallback instead of staying unchanged.
type ConvertTypeParams struct {
	Type        TargetType `json:"type"`
	Fallback    any        `json:"fallbackValue,omitempty"`
	HasFallback bool       `json:"-"`
	Format      string     `json:"format,omitempty"`
}

func (ConvertTypeParams) Operation() Operation { return OpConvertType }

func (p ConvertTypeParams) validate(field string) error {
	if err := requireField(OpConvertType, field); err != nil {
		return err
	}
	switch p.Type {
	case TargetNumber, TargetBoolean, TargetString:
	case TargetDate:
		if p.Format != "" {
			if _, err := ResolveLayout(p.Format); err != nil {
				return invalid("format: %v", err)
			}
		}
	default:
		return invalid("type must be one of number, boolean, string, date (got %q)", p.Type)
	}
	return nil
}

// ---- Rename ----

// RenameParams renames the field to NewName, or renames several columns at
// once through Mapping.
type RenameParams struct {
	NewName string            `json:"newName,omitempty"`
	Mapping map[string]string `json:"mapping,omitempty"`
}

func (RenameParams) Operation() Operation { return OpRename }

func (p RenameParams) validate(field string) error {
	if len(p.Mapping) == 0 {
		if strings.TrimSpace(p.NewName) == "" {
			return invalid("newName or mapping is required")
		}
		return requireField(OpRename, field)
	}
	for from, to := range p.Mapping {
		if from == "" || strings.TrimSpace(to) == "" {
			return invalid("mapping entries need non-empty names")
		}
	}
	return nil
}

// Targets returns the source → destination mapping for field.
func (p RenameParams) Targets(field string) map[string]string {
	out := make(map[string]string, len(p.Mapping)+1)
	for k, v := range p.Mapping {
		out[k] = v
	}
	if p.NewName != "" && field != "" {
		out[field] = p.NewName
	}
	return out
}

// ---- Categorize ----

// Default sentinel labels for categorize.
const (
	DefaultUnmatchedLabel = "Unknown"
	DefaultInvalidLabel   = "Invalid"
)

// Range maps an inclusive numeric interval to a label.
type Range struct {
	Label string   `json:"label" yaml:"label"`
	Min   *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max   *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Bounds returns the range's interval.
func (r Range) Bounds() Bounds {
	return Bounds{Min: r.Min, Max: r.Max}
}

// CategorizeParams buckets numeric values into labelled ranges. The first
// matching range wins. With Derive the label goes to <field>_category instead
// of replacing the value.
type CategorizeParams struct {
	Ranges       []Range `json:"ranges"`
	Derive       bool    `json:"derive,omitempty"`
	DefaultLabel string  `json:"defaultLabel,omitempty"`
	InvalidLabel string  `json:"invalidLabel,omitempty"`
}

func (CategorizeParams) Operation() Operation { return OpCategorize }

func (p CategorizeParams) validate(field string) error {
	if err := requireField(OpCategorize, field); err != nil {
		return err
	}
	if len(p.Ranges) == 0 {
		return invalid("ranges are required")
	}
	for i, r := range p.Ranges {
		if strings.TrimSpace(r.Label) == "" {
			return invalid("range %d has no label", i+1)
		}
		if r.Min == nil || r.Max == nil {
			return invalid("range %d needs both min and max", i+1)
		}
		if err := r.Bounds().check(); err != nil {
			return invalid("range %d: %v", i+1, err)
		}
	}
	return nil
}

// Unmatched is the label for numeric values outside every range.
func (p CategorizeParams) Unmatched() string {
	if p.DefaultLabel != "" {
		return p.DefaultLabel
	}
	return DefaultUnmatchedLabel
}

// Invalid is the label for values that are not numeric.
func (p CategorizeParams) Invalid() string {
	if p.InvalidLabel != "" {
		return p.InvalidLabel
	}
	return DefaultInvalidLabel
}

// OutputColumn is the column that receives the label.
func (p CategorizeParams) OutputColumn(field string) string {
	if p.Derive {
		return field + "_category"
	}
	return field
}

// ---- Missing values ----

// ImputeMethod selects the statistic used to fill blanks.
type ImputeMethod string

const (
	ImputeMean   ImputeMethod = "mean"
	ImputeMedian ImputeMethod = "median"
	ImputeMode   ImputeMethod = "mode"
)

// MissingValuesParams fills blank cells of the field, or of each listed
// column, with a statistic of the non-blank values.
type MissingValuesParams struct {
	Method  ImputeMethod `json:"method"`
	Columns []string     `json:"columns,omitempty"`
}

func (MissingValuesParams) Operation() Operation { return OpHandleMissing }

func (p MissingValuesParams) validate(field string) error {
	switch p.Method {
	case ImputeMean, ImputeMedian, ImputeMode:
	default:
		return invalid("method must be one of mean, median, mode (got %q)", p.Method)
	}
	if len(p.Columns) == 0 {
		return requireField(OpHandleMissing, field)
	}
	return nil
}

// Targets returns the columns to impute.
func (p MissingValuesParams) Targets(field string) []string {
	if len(p.Columns) > 0 {
		return p.Columns
	}
	return []string{field}
}

// ---- Normalization ----

// NormalizationEpsilon keeps min-max scaling defined when min == max.
const NormalizationEpsilon = 1e-9

// NormalizationParams scales numeric values into [0, 1] using a fixed range
// or one computed from the column (AutoRange).
type NormalizationParams struct {
	MinValue     *float64 `json:"minValue,omitempty"`
	MaxValue     *float64 `json:"maxValue,omitempty"`
	AutoRange    bool     `json:"autoRange,omitempty"`
	ClipOutliers bool     `json:"clipOutliers,omitempty"`
}

func (NormalizationParams) Operation() Operation { return OpNormalize }

func (p NormalizationParams) validate(field string) error {
	if err := requireField(OpNormalize, field); err != nil {
		return err
	}
	if lo, hi, ok := p.FixedRange(); ok {
		if lo > hi {
			return invalid("minValue %v is greater than maxValue %v", lo, hi)
		}
		return nil
	}
	if !p.AutoRange {
		return invalid("minValue and maxValue are required unless autoRange is set")
	}
	return nil
}

// FixedRange returns the configured range. An explicit range takes precedence
// over AutoRange.
func (p NormalizationParams) FixedRange() (lo, hi float64, ok bool) {
	if p.MinValue == nil || p.MaxValue == nil {
		return 0, 0, false
	}
	return *p.MinValue, *p.MaxValue, true
}

// ---- Regex replacement ----

// RegexReplaceParams applies a regular expression to every string cell of the
// dataset.
type RegexReplaceParams struct {
	Pattern         string `json:"pattern"`
	Replacement     string `json:"replacement"`
	CaseInsensitive bool   `json:"caseInsensitive,omitempty"`
}

func (RegexReplaceParams) Operation() Operation { return OpRegexReplace }

func (p RegexReplaceParams) validate(string) error {
	if p.Pattern == "" {
		return invalid("pattern is required")
	}
	if _, err := p.Compile(); err != nil {
		return invalid("pattern: %v", err)
	}
	return nil
}

// Compile builds the expression. A /expr/flags pattern is unwrapped.
func (p RegexReplaceParams) Compile() (*regexp.Regexp, error) {
	expr := p.Pattern
	flags := ""
	if e, f, ok := splitSlashPattern(p.Pattern); ok {
		expr, flags = e, f
	}
	if p.CaseInsensitive {
		flags = "(?i)" + flags
	}
	return regexp.Compile(flags + expr)
}

// ---- Duplicates / filtering ----

// DedupeParams keys rows on Columns; empty means every header.
type DedupeParams struct {
	Columns []string `json:"columns,omitempty"`
}

func (DedupeParams) Operation() Operation { return OpRemoveDuplicates }

func (p DedupeParams) validate(string) error {
	for _, c := range p.Columns {
		if c == "" {
			return invalid("columns must not contain empty names")
		}
	}
	return nil
}

// FilterParams keeps rows whose criteria columns are numeric and within bounds.
type FilterParams struct {
	Criteria map[string]Bounds `json:"criteria"`
}

func (FilterParams) Operation() Operation { return OpFilterRecords }

func (p FilterParams) validate(string) error {
	if len(p.Criteria) == 0 {
		return invalid("criteria are required")
	}
	for col, b := range p.Criteria {
		if col == "" {
			return invalid("criteria column name is empty")
		}
		if b.Min == nil && b.Max == nil {
			return invalid("criteria for %q need min or max", col)
		}
		if err := b.check(); err != nil {
			return invalid("criteria for %q: %v", col, err)
		}
	}
	return nil
}

// ---- Dates ----

// DateFormatParams re-formats date cells of the field and/or Columns.
type DateFormatParams struct {
	Columns      []string `json:"columns,omitempty"`
	Format       string   `json:"format,omitempty"`
	InputFormats []string `json:"inputFormats,omitempty"`
}

func (DateFormatParams) Operation() Operation { return OpConvertDateFormats }

func (p DateFormatParams) validate(field string) error {
	if len(p.Columns) == 0 {
		if err := requireField(OpConvertDateFormats, field); err != nil {
			return err
		}
	}
	if _, err := ResolveLayout(p.Format); err != nil {
		return invalid("format: %v", err)
	}
	for _, f := range p.InputFormats {
		if _, err := ResolveLayout(f); err != nil {
			return invalid("inputFormats: %v", err)
		}
	}
	return nil
}

// Targets returns the columns to re-format.
func (p DateFormatParams) Targets(field string) []string {
	if len(p.Columns) == 0 {
		return []string{field}
	}
	if field == "" {
		return p.Columns
	}
	for _, c := range p.Columns {
		if c == field {
			return p.Columns
		}
	}
	return append([]string{field}, p.Columns...)
}

// LayoutUnix is a pseudo-layout meaning seconds since the epoch.
const LayoutUnix = "unix"

var layoutAliases = map[string]string{
	"":         "2006-01-02",
	"iso":      "2006-01-02",
	"date":     "2006-01-02",
	"us":       "01/02/2006",
	"eu":       "02/01/2006",
	"datetime": "2006-01-02 15:04:05",
	"rfc3339":  time.RFC3339,
	"unix":     LayoutUnix,
}

// tokenLayout translates the yyyy-MM-dd style used by date libraries.
var tokenLayout = strings.NewReplacer(
	"yyyy", "2006", "YYYY", "2006",
	"yy", "06",
	"MM", "01",
	"dd", "02", "DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

var layoutProbe = time.Date(2001, 11, 23, 19, 47, 31, 0, time.UTC)

// ResolveLayout turns an alias, a yyyy-MM-dd token format or a Go reference
// layout into a Go layout.
func ResolveLayout(format string) (string, error) {
	if l, ok := layoutAliases[strings.ToLower(strings.TrimSpace(format))]; ok {
		return l, nil
	}
	layout := tokenLayout.Replace(format)
	if layoutProbe.Format(layout) == layout {
		return "", fmt.Errorf("%q contains no date components", format)
	}
	return layout, nil
}

// ---- Code standardization ----

// StandardizeParams reformats code-like values. Values already matching
// ValidPattern are left alone; others are optionally trimmed and upper-cased
// and then rewritten with MatchPattern → Replacement.
type StandardizeParams struct {
	MatchPattern string `json:"matchPattern"`
	Replacement  string `json:"replacement"`
	ValidPattern string `json:"validPattern,omitempty"`
	Uppercase    bool   `json:"uppercase,omitempty"`
	Trim         bool   `json:"trim,omitempty"`
}

func (StandardizeParams) Operation() Operation { return OpStandardizeCodes }

func (p StandardizeParams) validate(field string) error {
	if err := requireField(OpStandardizeCodes, field); err != nil {
		return err
	}
	if p.MatchPattern == "" {
		return invalid("matchPattern is required")
	}
	if _, _, err := p.Compile(); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// Compile returns the match expression and the optional valid-value expression.
func (p StandardizeParams) Compile() (match, valid *regexp.Regexp, err error) {
	if match, err = regexp.Compile(p.MatchPattern); err != nil {
		return nil, nil, fmt.Errorf("matchPattern: %w", err)
	}
	if p.ValidPattern != "" {
		if valid, err = regexp.Compile(p.ValidPattern); err != nil {
			return nil, nil, fmt.Errorf("validPattern: %w", err)
		}
	}
	return match, valid, nil
}

// ---- Logging ----

// LogFormat is the rendering of a logged cleaning action.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// LogParams emits Message (or a default describing the rule) to the observer.
type LogParams struct {
	Format  LogFormat `json:"format,omitempty"`
	Message string    `json:"message,omitempty"`
}

func (LogParams) Operation() Operation { return OpLogActions }

func (p LogParams) validate(string) error {
	switch p.Format {
	case "", LogText, LogJSON:
		return nil
	default:
		return invalid("format must be text or json (got %q)", p.Format)
	}
}

// ---- Undecodable ----

// InvalidParams holds raw parameters that could not be decoded into the
// operation's typed form. It always fails validation.
type InvalidParams struct {
	Op  Operation
	Raw map[string]any
	Err error
}

func (p InvalidParams) Operation() Operation { return p.Op }

func (p InvalidParams) validate(string) error {
	if p.Err == nil {
		return invalid("undecodable parameters")
	}
	if errors.Is(p.Err, ErrInvalidParams) || errors.Is(p.Err, ErrUnknownOperation) {
		return p.Err
	}
	return fmt.Errorf("%w: %v", ErrInvalidParams, p.Err)
}

// MarshalJSON writes the raw parameters back out unchanged.
func (p InvalidParams) MarshalJSON() ([]byte, error) {
	if p.Raw == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Raw)
}

func requireField(op Operation, field string) error {
	if strings.TrimSpace(field) == "" {
		return invalid("%s requires a target field", op)
	}
	return nil
}
