package ops

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

// Numeric coerces a cell to a finite number. Strings are trimmed first.
// Booleans, nulls, empty strings, NaN and infinities are not numeric.
func Numeric(v dataset.Value) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, finite(t)
	case float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		f := cast.ToFloat64(t)
		return f, finite(f)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// StrictNumber parses a cell without trimming, so " 5 " is rejected.
func StrictNumber(v dataset.Value) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, finite(t)
	case float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		f := cast.ToFloat64(t)
		return f, finite(f)
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Truthy converts a cell to a boolean: booleans as-is, non-zero numbers, and
// the strings true, yes and 1 (case-insensitive).
func Truthy(v dataset.Value) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true
		}
	}
	return false
}

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling
var (
	dateTimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"01/02/2006 15:04:05",
		"1/2/2006 15:04",
	}
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "02-Jan-2006",
		"20060102",
	}
)

// ParseDate parses s with the extra layouts first, then the built-in ones.
// hasClock reports whether the matched layout carries a time of day.
func ParseDate(s string, extra ...string) (t time.Time, hasClock bool, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, false
	}

	for _, layout := range extra {
		if layout == rules.LayoutUnix {
			if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
				return time.Unix(secs, 0).UTC(), true, true
			}
			continue
		}
		if t, err := time.Parse(layout, s); err == nil {
			return t, strings.Contains(layout, "15") || strings.Contains(layout, "03"), true
		}
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true, true
		}
	}

	// Try 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, false, true
		}
	}

	// Try 2-digit year layouts with pivot year adjustment
	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, false, true
		}
	}

	return time.Time{}, false, false
}

// FormatDate renders t with a resolved layout. The unix pseudo-layout yields
// seconds since the epoch as a number.
func FormatDate(t time.Time, layout string) dataset.Value {
	if layout == rules.LayoutUnix {
		return float64(t.Unix())
	}
	return t.Format(layout)
}

// resolveLayouts resolves a list of user formats, skipping any that fail.
func resolveLayouts(formats []string) []string {
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		if l, err := rules.ResolveLayout(f); err == nil {
			out = append(out, l)
		}
	}
	return out
}
