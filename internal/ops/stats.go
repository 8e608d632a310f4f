package ops

import (
	"math"
	"sort"

	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

// HandleMissingValues fills blank cells (null, absent or "") of each target
// column with the mean, median or mode of the column's other values.
func HandleMissingValues(t Table, field string, p rules.Params, w Warner) (Table, error) {
	mp, err := paramsAs[rules.MissingValuesParams](p)
	if err != nil {
		return t, err
	}

	out := t
	for _, col := range mp.Targets(field) {
		if !requireColumn(out, rules.OpHandleMissing, col, w) {
			continue
		}
		fill, ok := impute(out.Rows, col, mp.Method)
		if !ok {
			w.Warn("%s: no usable values in %q for %s", rules.OpHandleMissing, col, mp.Method)
			continue
		}
		out = mapColumn(out, col, func(v dataset.Value) (dataset.Value, bool) {
			if !dataset.IsBlank(v) {
				return nil, false
			}
			return fill, true
		})
	}
	return out, nil
}

func impute(rows []dataset.Row, col string, method rules.ImputeMethod) (dataset.Value, bool) {
	switch method {
	case rules.ImputeMean:
		nums := numbers(rows, col)
		if len(nums) == 0 {
			return nil, false
		}
		return Mean(nums), true
	case rules.ImputeMedian:
		nums := numbers(rows, col)
		if len(nums) == 0 {
			return nil, false
		}
		return Median(nums), true
	case rules.ImputeMode:
		values := make([]dataset.Value, 0, len(rows))
		for _, r := range rows {
			if v := r[col]; !dataset.IsBlank(v) {
				values = append(values, v)
			}
		}
		return Mode(values)
	default:
		return nil, false
	}
}

// numbers collects the numeric cells of col.
func numbers(rows []dataset.Row, col string) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if f, ok := Numeric(r[col]); ok {
			out = append(out, f)
		}
	}
	return out
}

// Mean returns the arithmetic mean. The slice must not be empty.
func Mean(nums []float64) float64 {
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return sum / float64(len(nums))
}

// Median returns the middle value; for an even count, the average of the two
// middle values. The slice must not be empty and is not modified.
func Median(nums []float64) float64 {
	sorted := make([]float64, len(nums))
	copy(sorted, nums)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Mode returns the most frequent value, compared by canonical string form.
// Ties go to the value seen first. The original value kind is preserved.
func Mode(values []dataset.Value) (dataset.Value, bool) {
	if len(values) == 0 {
		return nil, false
	}
	counts := make(map[string]int, len(values))
	first := make(map[string]dataset.Value, len(values))
	order := make([]string, 0, len(values))
	for _, v := range values {
		key := dataset.Format(v)
		if _, ok := first[key]; !ok {
			first[key] = v
			order = append(order, key)
		}
		counts[key]++
	}

	best := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}
	return first[best], true
}

// Outlier bounds for normalized values. Results outside them are reported.
const (
	outlierLow  = -0.5
	outlierHigh = 1.5
)

// Normalize min-max scales the numeric cells of field into [0, 1], rounded
// to four decimals.
func Normalize(t Table, field string, p rules.Params, w Warner) (Table, error) {
	np, err := paramsAs[rules.NormalizationParams](p)
	if err != nil {
		return t, err
	}
	if !requireColumn(t, rules.OpNormalize, field, w) {
		return t, nil
	}

	lo, hi, ok := np.FixedRange()
	if !ok {
		nums := numbers(t.Rows, field)
		if len(nums) == 0 {
			w.Warn("%s: no numeric values in %q", rules.OpNormalize, field)
			return t, nil
		}
		lo, hi = nums[0], nums[0]
		for _, n := range nums[1:] {
			lo = math.Min(lo, n)
			hi = math.Max(hi, n)
		}
	}

	var outliers, skipped failures
	i := -1
	out := mapColumn(t, field, func(v dataset.Value) (dataset.Value, bool) {
		i++
		f, ok := Numeric(v)
		if !ok {
			if !dataset.IsBlank(v) {
				skipped.add(i, v)
			}
			return nil, false
		}
		n := (f - lo) / (hi - lo + rules.NormalizationEpsilon)
		if n < outlierLow || n > outlierHigh {
			outliers.add(i, v)
		}
		if np.ClipOutliers {
			n = math.Max(0, math.Min(1, n))
		}
		return round4(n), true
	})
	outliers.report(w, "%s: values in %q far outside [%v, %v]", rules.OpNormalize, field, lo, hi)
	skipped.report(w, "%s: non-numeric values in %q left unchanged", rules.OpNormalize, field)
	return out, nil
}

func round4(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}
