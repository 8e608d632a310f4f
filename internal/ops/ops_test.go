package ops

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

func table(headers []string, rows ...dataset.Row) Table {
	return Table{Headers: headers, Rows: rows}
}

func column(t Table, col string) []dataset.Value {
	out := make([]dataset.Value, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[col]
	}
	return out
}

func TestTrim(t *testing.T) {
	in := table([]string{"Name", "Age"},
		dataset.Row{"Name": "  Ann ", "Age": " 5 "},
		dataset.Row{"Name": 3.0, "Age": nil},
		dataset.Row{"Name": "\tBo\n"},
	)
	var w Warnings

	once, err := Trim(in, "Name", rules.TrimParams{}, &w)
	require.NoError(t, err)
	assert.Equal(t, []dataset.Value{"Ann", 3.0, "Bo"}, column(once, "Name"))
	assert.Equal(t, " 5 ", once.Rows[0]["Age"], "other columns untouched")

	twice, err := Trim(once, "Name", rules.TrimParams{}, &w)
	require.NoError(t, err)
	assert.Equal(t, once, twice, "trim is idempotent")
	assert.Equal(t, "  Ann ", in.Rows[0]["Name"], "input untouched")
	assert.Empty(t, w)
}

func TestReplace(t *testing.T) {
	in := table([]string{"Phone"},
		dataset.Row{"Phone": "555.123.4567"},
		dataset.Row{"Phone": "(555) 987 6543"},
		dataset.Row{"Phone": nil},
	)

	tests := []struct {
		name   string
		params rules.ReplaceParams
		want   []dataset.Value
	}{
		{
			name:   "literal",
			params: rules.ReplaceParams{Pattern: ".", Replacement: "-"},
			want:   []dataset.Value{"555-123-4567", "(555) 987 6543", nil},
		},
		{
			name:   "slash regex",
			params: rules.ReplaceParams{Pattern: `/\D/g`, Replacement: ""},
			want:   []dataset.Value{"5551234567", "5559876543", nil},
		},
		{
			name:   "regex flag with groups",
			params: rules.ReplaceParams{Pattern: `^(\d{3})\.(\d{3})\.(\d{4})$`, Replacement: "($1) $2 $3", Regex: true},
			want:   []dataset.Value{"(555) 123 4567", "(555) 987 6543", nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Replace(in, "Phone", tt.params, &Warnings{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, column(out, "Phone"))
		})
	}
}

func TestRemoveNulls(t *testing.T) {
	in := table([]string{"A", "B"},
		dataset.Row{"A": "x", "B": "1"},
		dataset.Row{"A": nil, "B": "2"},
		dataset.Row{"A": "", "B": "3"},
		dataset.Row{"A": "  ", "B": "4"},
		dataset.Row{"B": "5"},
		dataset.Row{"A": "y", "B": nil},
	)

	tests := []struct {
		name   string
		field  string
		params rules.RemoveNullsParams
		want   []dataset.Value
	}{
		{"field form", "A", rules.RemoveNullsParams{}, []dataset.Value{"1", "4", nil}},
		{"strict", "A", rules.RemoveNullsParams{StrictMode: true}, []dataset.Value{"1", nil}},
		{"columns", "", rules.RemoveNullsParams{Columns: []string{"A", "B"}}, []dataset.Value{"1", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := RemoveNulls(in, tt.field, tt.params, &Warnings{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, column(out, "B"))
			for _, r := range out.Rows {
				for _, c := range tt.params.Targets(tt.field) {
					assert.False(t, dataset.IsBlank(r[c]), "null survived in %s", c)
				}
			}
		})
	}

	t.Run("missing column drops everything", func(t *testing.T) {
		var w Warnings
		out, err := RemoveNulls(in, "", rules.RemoveNullsParams{Columns: []string{"Nope"}}, &w)
		require.NoError(t, err)
		assert.Empty(t, out.Rows)
		assert.Len(t, w, 1)
	})
}

func TestConvertType(t *testing.T) {
	in := table([]string{"V"},
		dataset.Row{"V": "5"},
		dataset.Row{"V": " 5 "},
		dataset.Row{"V": "abc"},
		dataset.Row{"V": nil},
		dataset.Row{"V": true},
	)

	tests := []struct {
		name      string
		params    rules.ConvertTypeParams
		want      []dataset.Value
		wantWarns int
	}{
		{
			name:      "number is strict",
			params:    rules.ConvertTypeParams{Type: rules.TargetNumber},
			want:      []dataset.Value{5.0, " 5 ", "abc", nil, 1.0},
			wantWarns: 1,
		},
		{
			name:      "number with fallback",
			params:    rules.ConvertTypeParams{Type: rules.TargetNumber, Fallback: 0, HasFallback: true},
			want:      []dataset.Value{5.0, 0.0, 0.0, nil, 1.0},
			wantWarns: 1,
		},
		{
			name:   "boolean",
			params: rules.ConvertTypeParams{Type: rules.TargetBoolean},
			want:   []dataset.Value{false, false, false, nil, true},
		},
		{
			name:   "string",
			params: rules.ConvertTypeParams{Type: rules.TargetString},
			want:   []dataset.Value{"5", " 5 ", "abc", nil, "true"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w Warnings
			out, err := ConvertType(in, "V", tt.params, &w)
			require.NoError(t, err)
			assert.Equal(t, tt.want, column(out, "V"))
			assert.Len(t, w, tt.wantWarns)
		})
	}
}

func TestConvertType_BooleanStrings(t *testing.T) {
	in := table([]string{"B"},
		dataset.Row{"B": "Yes"},
		dataset.Row{"B": "TRUE"},
		dataset.Row{"B": "1"},
		dataset.Row{"B": "no"},
		dataset.Row{"B": 2.0},
		dataset.Row{"B": 0.0},
	)
	out, err := ConvertType(in, "B", rules.ConvertTypeParams{Type: rules.TargetBoolean}, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, []dataset.Value{true, true, true, false, true, false}, column(out, "B"))
}

func TestConvertType_Date(t *testing.T) {
	in := table([]string{"D"},
		dataset.Row{"D": "03/15/2024"},
		dataset.Row{"D": "2024-03-15 08:30:00"},
		dataset.Row{"D": "someday"},
	)

	var w Warnings
	out, err := ConvertType(in, "D", rules.ConvertTypeParams{Type: rules.TargetDate}, &w)
	require.NoError(t, err)
	assert.Equal(t, []dataset.Value{"2024-03-15", "2024-03-15T08:30:00Z", "someday"}, column(out, "D"))
	assert.Len(t, w, 1)

	out, err = ConvertType(in, "D", rules.ConvertTypeParams{Type: rules.TargetDate, Format: "dd/MM/yyyy"}, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, "15/03/2024", out.Rows[0]["D"])
}

func TestRename(t *testing.T) {
	in := table([]string{"Age", "Years", "Name"},
		dataset.Row{"Age": 1.0, "Years": 2.0, "Name": "a"},
	)

	t.Run("single", func(t *testing.T) {
		out, err := Rename(in, "Name", rules.RenameParams{NewName: "FullName"}, &Warnings{})
		require.NoError(t, err)
		assert.Equal(t, []string{"Age", "Years", "FullName"}, out.Headers)
		assert.Equal(t, dataset.Row{"Age": 1.0, "Years": 2.0, "FullName": "a"}, out.Rows[0])
	})

	t.Run("collision gets merged suffix", func(t *testing.T) {
		var w Warnings
		out, err := Rename(in, "Age", rules.RenameParams{NewName: "Years"}, &w)
		require.NoError(t, err)
		assert.Equal(t, []string{"Years", "Years_merged", "Name"}, out.Headers)
		assert.Equal(t, 1.0, out.Rows[0]["Years"])
		assert.Equal(t, 2.0, out.Rows[0]["Years_merged"])
		assert.Len(t, w, 1)
	})

	t.Run("simultaneous swap", func(t *testing.T) {
		out, err := Rename(in, "", rules.RenameParams{Mapping: map[string]string{"Age": "Years", "Years": "Age"}}, &Warnings{})
		require.NoError(t, err)
		assert.Equal(t, []string{"Years", "Age", "Name"}, out.Headers)
		assert.Equal(t, 1.0, out.Rows[0]["Years"])
		assert.Equal(t, 2.0, out.Rows[0]["Age"])
	})

	t.Run("unknown source", func(t *testing.T) {
		var w Warnings
		out, err := Rename(in, "", rules.RenameParams{Mapping: map[string]string{"Ghost": "Spirit"}}, &w)
		require.NoError(t, err)
		assert.Equal(t, in.Headers, out.Headers)
		assert.Len(t, w, 1)
	})

	assert.Equal(t, []string{"Age", "Years", "Name"}, in.Headers, "input untouched")
}

func TestCategorize(t *testing.T) {
	ranges := []rules.Range{
		{Label: "Child", Min: rules.Float(0), Max: rules.Float(12)},
		{Label: "Adult", Min: rules.Float(13), Max: rules.Float(64)},
	}
	in := table([]string{"Age"},
		dataset.Row{"Age": "5"},
		dataset.Row{"Age": 30.0},
		dataset.Row{"Age": 99.0},
		dataset.Row{"Age": "old"},
		dataset.Row{"Age": ""},
		dataset.Row{"Age": nil},
		dataset.Row{"Age": "12.5"},
	)

	out, err := Categorize(in, "Age", rules.CategorizeParams{Ranges: ranges}, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t,
		[]dataset.Value{"Child", "Adult", "Unknown", "Invalid", "Invalid", "Invalid", "Unknown"},
		column(out, "Age"))
	assert.Equal(t, []string{"Age"}, out.Headers)

	out, err = Categorize(in, "Age", rules.CategorizeParams{Ranges: ranges, Derive: true, DefaultLabel: "Other"}, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Age", "Age_category"}, out.Headers)
	assert.Equal(t, "5", out.Rows[0]["Age"], "derive keeps the value")
	assert.Equal(t, "Other", out.Rows[2]["Age_category"])

	again, err := Categorize(out, "Age", rules.CategorizeParams{Ranges: ranges, Derive: true}, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Age", "Age_category"}, again.Headers, "header appended once")
}

func TestStatistics(t *testing.T) {
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}), "even count averages the middle pair")
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))

	v, ok := Mode([]dataset.Value{"b", "a", "a", "b", "c"})
	require.True(t, ok)
	assert.Equal(t, "b", v, "ties go to the first value seen")

	v, ok = Mode([]dataset.Value{1.0, "1", 2.0})
	require.True(t, ok)
	assert.Equal(t, 1.0, v, "kind of the first occurrence is kept")

	_, ok = Mode(nil)
	assert.False(t, ok)
}

func TestHandleMissingValues(t *testing.T) {
	in := table([]string{"Score", "City"},
		dataset.Row{"Score": 1.0, "City": "Oslo"},
		dataset.Row{"Score": nil, "City": ""},
		dataset.Row{"Score": "4", "City": "Rome"},
		dataset.Row{"City": "Oslo"},
		dataset.Row{"Score": 3.0, "City": nil},
		dataset.Row{"Score": 2.0, "City": "Rome"},
	)

	tests := []struct {
		name   string
		field  string
		params rules.MissingValuesParams
		col    string
		want   []dataset.Value
	}{
		{"mean", "Score", rules.MissingValuesParams{Method: rules.ImputeMean}, "Score",
			[]dataset.Value{1.0, 2.5, "4", 2.5, 3.0, 2.0}},
		{"median", "Score", rules.MissingValuesParams{Method: rules.ImputeMedian}, "Score",
			[]dataset.Value{1.0, 2.5, "4", 2.5, 3.0, 2.0}},
		{"mode", "City", rules.MissingValuesParams{Method: rules.ImputeMode}, "City",
			[]dataset.Value{"Oslo", "Oslo", "Rome", "Oslo", "Oslo", "Rome"}},
		{"columns form", "", rules.MissingValuesParams{Method: rules.ImputeMode, Columns: []string{"City"}}, "City",
			[]dataset.Value{"Oslo", "Oslo", "Rome", "Oslo", "Oslo", "Rome"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := HandleMissingValues(in, tt.field, tt.params, &Warnings{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, column(out, tt.col))
		})
	}

	t.Run("nothing usable", func(t *testing.T) {
		empty := table([]string{"X"}, dataset.Row{"X": "a"}, dataset.Row{"X": nil})
		var w Warnings
		out, err := HandleMissingValues(empty, "X", rules.MissingValuesParams{Method: rules.ImputeMean}, &w)
		require.NoError(t, err)
		assert.Equal(t, empty, out)
		assert.Len(t, w, 1)
	})
}

func TestNormalize(t *testing.T) {
	in := table([]string{"S"},
		dataset.Row{"S": 0.0},
		dataset.Row{"S": "50"},
		dataset.Row{"S": 100.0},
	)

	out, err := Normalize(in, "S", rules.NormalizationParams{AutoRange: true}, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, []dataset.Value{0.0, 0.5, 1.0}, column(out, "S"))

	out, err = Normalize(in, "S", rules.NormalizationParams{MinValue: rules.Float(0), MaxValue: rules.Float(50), AutoRange: true}, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, []dataset.Value{0.0, 1.0, 2.0}, column(out, "S"), "explicit range wins over autoRange")
}

func TestNormalize_Outliers(t *testing.T) {
	in := table([]string{"S"},
		dataset.Row{"S": -100.0},
		dataset.Row{"S": 5.0},
		dataset.Row{"S": 200.0},
		dataset.Row{"S": "n/a"},
		dataset.Row{"S": nil},
	)
	params := rules.NormalizationParams{MinValue: rules.Float(0), MaxValue: rules.Float(10), ClipOutliers: true}

	var w Warnings
	out, err := Normalize(in, "S", params, &w)
	require.NoError(t, err)
	assert.Equal(t, []dataset.Value{0.0, 0.5, 1.0, "n/a", nil}, column(out, "S"))
	assert.Len(t, w, 2, "one outlier warning, one non-numeric warning")

	for _, v := range column(out, "S") {
		if f, ok := v.(float64); ok {
			assert.True(t, f >= 0 && f <= 1)
		}
	}
}

func TestRegexReplace(t *testing.T) {
	in := table([]string{"A", "B"},
		dataset.Row{"A": "foo  bar", "B": "x   y"},
		dataset.Row{"A": 1.0, "B": "none"},
	)
	out, err := RegexReplace(in, "", rules.RegexReplaceParams{Pattern: `\s+`, Replacement: " "}, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, dataset.Row{"A": "foo bar", "B": "x y"}, out.Rows[0])
	assert.Equal(t, dataset.Row{"A": 1.0, "B": "none"}, out.Rows[1])
	assert.Equal(t, "foo  bar", in.Rows[0]["A"])
}

func TestRemoveDuplicates(t *testing.T) {
	in := table([]string{"Name", "Age"},
		dataset.Row{"Name": "Ann", "Age": 30.0},
		dataset.Row{"Name": "Bob", "Age": 30.0},
		dataset.Row{"Name": "Ann", "Age": "30"},
		dataset.Row{"Name": "Ann", "Age": 31.0},
		dataset.Row{"Name": nil, "Age": nil},
		dataset.Row{"Age": ""},
	)

	out, err := RemoveDuplicates(in, "", rules.DedupeParams{}, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, []dataset.Value{"Ann", "Bob", "Ann", nil}, column(out, "Name"))

	out, err = RemoveDuplicates(in, "", rules.DedupeParams{Columns: []string{"Name"}}, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, []dataset.Value{"Ann", "Bob", nil}, column(out, "Name"))

	keys := map[string]bool{}
	for _, r := range out.Rows {
		k := dataset.Format(r["Name"])
		assert.False(t, keys[k], "duplicate key %q", k)
		keys[k] = true
	}
}

func TestFilterRecords(t *testing.T) {
	in := table([]string{"Age"},
		dataset.Row{"Age": 5.0},
		dataset.Row{"Age": "130"},
		dataset.Row{"Age": "forty"},
		dataset.Row{"Age": 0.0},
		dataset.Row{"Age": 120.0},
		dataset.Row{"Age": nil},
	)
	params := rules.FilterParams{Criteria: map[string]rules.Bounds{"Age": {Min: rules.Float(0), Max: rules.Float(120)}}}

	out, err := FilterRecords(in, "", params, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, []dataset.Value{5.0, 0.0, 120.0}, column(out, "Age"))

	params = rules.FilterParams{Criteria: map[string]rules.Bounds{"Age": {Min: rules.Float(100)}}}
	out, err = FilterRecords(in, "", params, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, []dataset.Value{"130", 120.0}, column(out, "Age"))
}

func TestConvertDateFormats(t *testing.T) {
	in := table([]string{"Visit", "Birth"},
		dataset.Row{"Visit": "2024-01-05", "Birth": "Jan 2, 1990"},
		dataset.Row{"Visit": "05.01.2024", "Birth": ""},
		dataset.Row{"Visit": "soon", "Birth": "1990/02/03"},
	)

	var w Warnings
	out, err := ConvertDateFormats(in, "Visit", rules.DateFormatParams{Format: "us", Columns: []string{"Birth"}}, &w)
	require.NoError(t, err)
	assert.Equal(t, []dataset.Value{"01/05/2024", "05/01/2024", "soon"}, column(out, "Visit"))
	assert.Equal(t, []dataset.Value{"01/02/1990", "", "02/03/1990"}, column(out, "Birth"))
	assert.Len(t, w, 1)

	out, err = ConvertDateFormats(in, "Visit", rules.DateFormatParams{Format: "yyyy-MM-dd", InputFormats: []string{"dd.MM.yyyy"}}, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05", out.Rows[1]["Visit"], "input formats take precedence")

	out, err = ConvertDateFormats(in, "Visit", rules.DateFormatParams{Format: "unix"}, &Warnings{})
	require.NoError(t, err)
	assert.Equal(t, float64(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC).Unix()), out.Rows[0]["Visit"])
}

func TestStandardizeCodes(t *testing.T) {
	in := table([]string{"Code"},
		dataset.Row{"Code": " e119 "},
		dataset.Row{"Code": "E11.9"},
		dataset.Row{"Code": "I2510"},
		dataset.Row{"Code": "garbage"},
		dataset.Row{"Code": 250.0},
	)
	params := rules.StandardizeParams{
		MatchPattern: `^([A-Z])(\d{2})(\d{1,2})$`,
		Replacement:  "$1$2.$3",
		ValidPattern: `^[A-Z]\d{2}\.\d{1,2}$`,
		Uppercase:    true,
		Trim:         true,
	}

	var w Warnings
	out, err := StandardizeCodes(in, "Code", params, &w)
	require.NoError(t, err)
	assert.Equal(t, []dataset.Value{"E11.9", "E11.9", "I25.10", "GARBAGE", 250.0}, column(out, "Code"))
	assert.Len(t, w, 1)
}

type actionSink struct {
	Warnings
	actions []string
}

func (s *actionSink) LogAction(action string, format rules.LogFormat) {
	s.actions = append(s.actions, string(format)+":"+action)
}

func TestLogActions(t *testing.T) {
	in := table([]string{"A"}, dataset.Row{"A": "x"})
	sink := &actionSink{}

	out, err := LogActions(in, "", rules.LogParams{Format: rules.LogJSON, Message: "after trim"}, sink)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = LogActions(in, "", rules.LogParams{}, sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"json:after trim", ":checkpoint: 1 rows, 1 columns"}, sink.actions)
}

func TestFormatAction(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "[2024-03-01T12:00:00Z] cleaned", FormatAction(rules.LogText, ts, "cleaned"))

	var entry map[string]string
	require.NoError(t, json.Unmarshal([]byte(FormatAction(rules.LogJSON, ts, "cleaned")), &entry))
	assert.Equal(t, map[string]string{"timestamp": "2024-03-01T12:00:00Z", "action": "cleaned"}, entry)
}

func TestApply(t *testing.T) {
	in := table([]string{"A"}, dataset.Row{"A": " x "})

	out, err := Apply(in, rules.Rule{Field: "A", Operation: rules.OpTrim}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", out.Rows[0]["A"])

	_, err = Apply(in, rules.Rule{Field: "A", Operation: "shine"}, nil)
	assert.ErrorIs(t, err, rules.ErrUnknownOperation)

	_, err = Apply(in, rules.Rule{Field: "A", Operation: rules.OpTrim, Params: rules.LogParams{}}, nil)
	assert.ErrorIs(t, err, ErrParams)
}

func TestNumeric(t *testing.T) {
	tests := []struct {
		in     dataset.Value
		want   float64
		wantOK bool
	}{
		{3.5, 3.5, true},
		{" 42 ", 42, true},
		{"-1e3", -1000, true},
		{"", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{true, 0, false},
		{nil, 0, false},
		{"12abc", 0, false},
		{7, 7, true},
		{int64(-3), -3, true},
		{uint8(2), 2, true},
		{float32(1.5), 1.5, true},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(dataset.Format(tt.in)), func(t *testing.T) {
			got, ok := Numeric(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStrictNumber(t *testing.T) {
	f, ok := StrictNumber(42)
	assert.True(t, ok)
	assert.Equal(t, 42.0, f)

	f, ok = StrictNumber(true)
	assert.True(t, ok)
	assert.Equal(t, 1.0, f)

	_, ok = StrictNumber(" 5 ")
	assert.False(t, ok, "strings are not trimmed")
}

func TestParseDate_TwoDigitYear(t *testing.T) {
	got, hasClock, ok := ParseDate("3/4/99")
	require.True(t, ok)
	assert.False(t, hasClock)
	assert.Equal(t, 1999, got.Year())

	got, _, ok = ParseDate("3/4/05")
	require.True(t, ok)
	assert.Equal(t, 2005, got.Year())
}
