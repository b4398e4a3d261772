package chart

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTerminal_Bar(t *testing.T) {
	spec := &Spec{
		Kind:   KindBar,
		Labels: []string{"food", "fuel"},
		Values: []float64{-120.5, -80},
		Title:  "Comparison: Show expenses by category",
	}

	out := RenderTerminal(spec, 40)

	assert.Contains(t, out, "Comparison: Show expenses by category")
	assert.Contains(t, out, "food  -120.50")
	assert.Contains(t, out, "fuel  -80")
}

func TestRenderTerminal_Line(t *testing.T) {
	spec := &Spec{
		Kind:   KindLine,
		Labels: []string{"2024-01", "2024-02", "2024-03"},
		Values: []float64{300, 250, 410},
		Title:  "Trend: spending by month",
	}

	out := RenderTerminal(spec, 0)

	assert.Contains(t, out, "Trend: spending by month")
	assert.Contains(t, out, "2024-03  410")
}

func TestRenderTerminal_LegendIsCapped(t *testing.T) {
	spec := &Spec{Kind: KindPie, Title: "Distribution: all"}
	for i := 0; i < 12; i++ {
		spec.Labels = append(spec.Labels, fmt.Sprintf("c%02d", i))
		spec.Values = append(spec.Values, float64(i+1))
	}

	out := RenderTerminal(spec, 60)

	assert.Contains(t, out, "c09  10")
	assert.NotContains(t, out, "c10  11")
	assert.Contains(t, out, "... 2 more")
}

func TestRenderTerminal_Empty(t *testing.T) {
	assert.Empty(t, RenderTerminal(nil, 40))
	assert.Empty(t, RenderTerminal(&Spec{Kind: KindBar}, 40))
}
