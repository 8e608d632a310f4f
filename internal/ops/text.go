package ops

import (
	"strings"

	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

// Trim strips leading and trailing whitespace from the string cells of field.
func Trim(t Table, field string, p rules.Params, w Warner) (Table, error) {
	if _, err := paramsAs[rules.TrimParams](p); err != nil {
		return t, err
	}
	if !requireColumn(t, rules.OpTrim, field, w) {
		return t, nil
	}
	return mapStrings(t, field, strings.TrimSpace), nil
}

// Replace substitutes every occurrence of the pattern in the string cells of
// field. Regular expression replacements expand $1-style references.
func Replace(t Table, field string, p rules.Params, w Warner) (Table, error) {
	rp, err := paramsAs[rules.ReplaceParams](p)
	if err != nil {
		return t, err
	}
	re, err := rp.Matcher()
	if err != nil {
		return t, err
	}
	if !requireColumn(t, rules.OpReplace, field, w) {
		return t, nil
	}

	if re == nil {
		return mapStrings(t, field, func(s string) string {
			return strings.ReplaceAll(s, rp.Pattern, rp.Replacement)
		}), nil
	}
	return mapStrings(t, field, func(s string) string {
		return re.ReplaceAllString(s, rp.Replacement)
	}), nil
}

// RegexReplace applies one expression to every string cell of every row.
func RegexReplace(t Table, _ string, p rules.Params, _ Warner) (Table, error) {
	rp, err := paramsAs[rules.RegexReplaceParams](p)
	if err != nil {
		return t, err
	}
	re, err := rp.Compile()
	if err != nil {
		return t, err
	}

	rows := make([]dataset.Row, len(t.Rows))
	for i, r := range t.Rows {
		var nr dataset.Row
		for k, v := range r {
			s, ok := v.(string)
			if !ok {
				continue
			}
			out := re.ReplaceAllString(s, rp.Replacement)
			if out == s {
				continue
			}
			if nr == nil {
				nr = r.Clone()
			}
			nr[k] = out
		}
		if nr == nil {
			nr = r
		}
		rows[i] = nr
	}
	return Table{Headers: t.Headers, Rows: rows}, nil
}

// StandardizeCodes rewrites code-like string cells of field into a canonical
// shape. Values already matching the valid pattern are left alone after the
// optional trim and upper-casing.
func StandardizeCodes(t Table, field string, p rules.Params, w Warner) (Table, error) {
	sp, err := paramsAs[rules.StandardizeParams](p)
	if err != nil {
		return t, err
	}
	match, valid, err := sp.Compile()
	if err != nil {
		return t, err
	}
	if !requireColumn(t, rules.OpStandardizeCodes, field, w) {
		return t, nil
	}

	var unmatched failures
	i := -1
	out := mapColumn(t, field, func(v dataset.Value) (dataset.Value, bool) {
		i++
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, false
		}
		code := s
		if sp.Trim {
			code = strings.TrimSpace(code)
		}
		if sp.Uppercase {
			code = strings.ToUpper(code)
		}
		if valid == nil || !valid.MatchString(code) {
			if match.MatchString(code) {
				code = match.ReplaceAllString(code, sp.Replacement)
			} else if valid != nil {
				unmatched.add(i, s)
			}
		}
		return code, code != s
	})
	unmatched.report(w, "%s: codes in %q match neither pattern", rules.OpStandardizeCodes, field)
	return out, nil
}
