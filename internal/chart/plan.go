package chart

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/finchat-dev/finchat/internal/shaper"
)

// Kind is the requested chart type.
type Kind string

const (
	KindBar  Kind = "bar"
	KindLine Kind = "line"
	KindPie  Kind = "pie"
	KindNone Kind = "none"
)

// ParseKind maps free text to a Kind. Unknown or empty values yield
// KindNone and false.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindBar, KindLine, KindPie:
		return k, true
	default:
		return KindNone, false
	}
}

const (
	// MaxLabelLength bounds x labels in runes.
	MaxLabelLength = 20
	// MaxTitleQuestion bounds the question text used in the title, in runes.
	MaxTitleQuestion = 50
)

// ErrPlanning is matched by every planning rejection.
var ErrPlanning = errors.New("chart planning rejected")

// PlanningError is a planning rejection with a reason.
type PlanningError struct {
	Reason string
}

func (e *PlanningError) Error() string {
	return "cannot visualize: " + e.Reason
}

func (e *PlanningError) Is(target error) bool {
	return target == ErrPlanning
}

func reject(format string, args ...any) error {
	return &PlanningError{Reason: fmt.Sprintf(format, args...)}
}

// Spec is a declarative chart description.
type Spec struct {
	Kind    Kind      `json:"kind"`
	XColumn string    `json:"x"`
	YColumn string    `json:"y"`
	Labels  []string  `json:"labels"`
	Values  []float64 `json:"values"`
	XLabel  string    `json:"x_label"`
	YLabel  string    `json:"y_label"`
	Title   string    `json:"title"`
}

var titlePrefix = map[Kind]string{
	KindBar:  "Comparison: ",
	KindLine: "Trend: ",
	KindPie:  "Distribution: ",
}

// Plan builds a Spec for table. The y column is the first numeric column;
// the x column is the first date-like column for line charts and otherwise
// the first column that is not y.
func Plan(table *shaper.Table, kind Kind, question string) (*Spec, error) {
	if _, ok := titlePrefix[kind]; !ok {
		return nil, reject("unsupported chart kind %q", kind)
	}
	if table == nil || len(table.Rows) == 0 {
		return nil, reject("no data to visualize")
	}
	if len(table.Columns) < 2 {
		return nil, reject("insufficient columns")
	}

	numeric := shaper.InferNumericColumns(table)
	if len(numeric) == 0 {
		return nil, reject("no numeric column")
	}
	y := numeric[0]

	x := ""
	if kind == KindLine {
		for _, c := range shaper.InferDateColumns(table) {
			if c != y {
				x = c
				break
			}
		}
	}
	if x == "" {
		for _, c := range table.Columns {
			if c != y {
				x = c
				break
			}
		}
	}

	xi, yi := indexOf(table.Columns, x), indexOf(table.Columns, y)
	spec := &Spec{
		Kind:    kind,
		XColumn: x,
		YColumn: y,
		Labels:  make([]string, 0, len(table.Rows)),
		Values:  make([]float64, 0, len(table.Rows)),
		XLabel:  x,
		YLabel:  y,
		Title:   titlePrefix[kind] + truncate(question, MaxTitleQuestion),
	}
	for _, row := range table.Rows {
		var v float64
		if row[yi] != nil {
			n, ok := shaper.Number(row[yi])
			if !ok {
				return nil, reject("column '%s' contains non-numeric data", y)
			}
			v = n
		}
		spec.Labels = append(spec.Labels, truncate(shaper.FormatCell(row[xi]), MaxLabelLength))
		spec.Values = append(spec.Values, v)
	}

	if kind == KindPie {
		var sum float64
		for _, v := range spec.Values {
			sum += math.Abs(v)
		}
		if sum == 0 {
			return nil, reject("no non-zero data")
		}
	}
	return spec, nil
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
