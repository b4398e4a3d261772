package chart

import (
	"fmt"
	"math"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/lipgloss"
)

const (
	// DefaultTerminalWidth is the preview width when the caller passes 0.
	DefaultTerminalWidth = 60
	terminalHeight       = 8
	maxLegendRows        = 10
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231"))
)

// RenderTerminal draws spec as text for a terminal: a bar chart for bar and
// pie specs, a sparkline for line specs, then a legend. Bars and legend
// stop after the first ten rows. Bar heights are absolute values.
func RenderTerminal(spec *Spec, width int) string {
	if spec == nil || len(spec.Values) == 0 {
		return ""
	}
	if width <= 0 {
		width = DefaultTerminalWidth
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(spec.Title))
	b.WriteString("\n")

	switch spec.Kind {
	case KindLine:
		b.WriteString(drawSparkline(spec.Values, width))
	default:
		b.WriteString(drawBars(spec, width))
	}
	b.WriteString("\n")
	b.WriteString(legend(spec))
	return b.String()
}

func drawBars(spec *Spec, width int) string {
	n := min(len(spec.Values), maxLegendRows)
	data := make([]barchart.BarData, 0, n)
	for i, v := range spec.Values[:n] {
		data = append(data, barchart.BarData{
			Label: spec.Labels[i],
			Values: []barchart.BarValue{
				{Name: spec.Labels[i], Value: math.Abs(v), Style: barStyle},
			},
		})
	}
	bc := barchart.New(width, terminalHeight)
	bc.PushAll(data)
	bc.Draw()
	return bc.View()
}

func drawSparkline(values []float64, width int) string {
	spark := sparkline.New(width, terminalHeight)
	for _, v := range values {
		spark.Push(v)
	}
	spark.Draw()
	return barStyle.Render(spark.View())
}

func legend(spec *Spec) string {
	labelWidth := 0
	for i := range spec.Labels {
		if i == maxLegendRows {
			break
		}
		labelWidth = max(labelWidth, len(spec.Labels[i]))
	}

	var b strings.Builder
	for i, label := range spec.Labels {
		if i == maxLegendRows {
			fmt.Fprintf(&b, "%s\n", labelStyle.Render(fmt.Sprintf("... %d more", len(spec.Labels)-maxLegendRows)))
			break
		}
		fmt.Fprintf(&b, "%s  %s\n",
			labelStyle.Render(fmt.Sprintf("%-*s", labelWidth, label)),
			valueStyle.Render(formatValue(spec.Values[i])))
	}
	return b.String()
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
