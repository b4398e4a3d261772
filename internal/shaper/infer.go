package shaper

import (
	"strconv"
	"strings"
	"time"
)

// inferenceSample is how many non-null values are inspected per column.
const inferenceSample = 5

// InferNumericColumns returns, in column order, the columns whose sampled
// non-null values all parse as numbers. Columns with no samples are excluded.
func InferNumericColumns(t *Table) []string {
	return inferColumns(t, func(v any) bool {
		_, ok := Number(v)
		return ok
	})
}

// InferDateColumns returns, in column order, the columns whose sampled
// non-null values all look like ISO dates.
func InferDateColumns(t *Table) []string {
	return inferColumns(t, isDateLike)
}

func inferColumns(t *Table, match func(any) bool) []string {
	if t == nil {
		return nil
	}
	var out []string
	for j, name := range t.Columns {
		sampled := 0
		ok := true
		for _, row := range t.Rows {
			if sampled == inferenceSample {
				break
			}
			v := row[j]
			if v == nil {
				continue
			}
			sampled++
			if !match(v) {
				ok = false
				break
			}
		}
		if ok && sampled > 0 {
			out = append(out, name)
		}
	}
	return out
}

// Number converts a cell value to float64. Numeric strings are accepted;
// booleans are not.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// isDateLike matches values such as 2024-01, 2024-01-15 or
// 2024/01/15 10:00: at least seven characters with a separator at index 4.
func isDateLike(v any) bool {
	switch x := v.(type) {
	case time.Time:
		return true
	case string:
		return len(x) >= 7 && (x[4] == '-' || x[4] == '/')
	default:
		return false
	}
}
