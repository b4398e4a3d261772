package chart

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var renderTracer = otel.Tracer("finchat/chart")

// Renderer turns a Spec into image bytes.
type Renderer interface {
	Render(ctx context.Context, spec *Spec) ([]byte, error)
}

// PNGRenderer renders specs with go-chart.
type PNGRenderer struct {
	Width  int
	Height int
}

// NewPNGRenderer returns a renderer producing 1000x600 images.
func NewPNGRenderer() *PNGRenderer {
	return &PNGRenderer{Width: 1000, Height: 600}
}

// Render implements Renderer.
func (p *PNGRenderer) Render(ctx context.Context, spec *Spec) ([]byte, error) {
	_, span := renderTracer.Start(ctx, "chart.render")
	defer span.End()
	span.SetAttributes(
		attribute.String("chart.kind", string(spec.Kind)),
		attribute.Int("chart.points", len(spec.Values)),
	)

	var buf bytes.Buffer
	var err error
	switch spec.Kind {
	case KindPie:
		err = p.pie(spec).Render(gochart.PNG, &buf)
	case KindLine:
		err = p.line(spec).Render(gochart.PNG, &buf)
	case KindBar:
		err = p.bar(spec).Render(gochart.PNG, &buf)
	default:
		err = fmt.Errorf("unsupported chart kind %q", spec.Kind)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to render %s chart: %w", spec.Kind, err)
	}
	return buf.Bytes(), nil
}

func (p *PNGRenderer) titleStyle() gochart.Style {
	return gochart.Style{Padding: gochart.Box{Top: 40}}
}

func (p *PNGRenderer) bar(spec *Spec) gochart.BarChart {
	lo, hi := 0.0, 0.0
	bars := make([]gochart.Value, len(spec.Values))
	for i, v := range spec.Values {
		bars[i] = gochart.Value{
			Label: spec.Labels[i],
			Value: v,
			Style: gochart.Style{FillColor: steelBlue, StrokeColor: steelBlue},
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if lo == hi {
		hi = lo + 1
	}

	width := (p.Width - 200) / len(bars)
	width = max(10, min(60, width))

	return gochart.BarChart{
		Title:        spec.Title,
		Width:        p.Width,
		Height:       p.Height,
		Background:   p.titleStyle(),
		BarWidth:     width,
		UseBaseValue: true,
		BaseValue:    0,
		YAxis: gochart.YAxis{
			Name:  spec.YLabel,
			Range: &gochart.ContinuousRange{Min: lo, Max: hi},
		},
		Bars: bars,
	}
}

func (p *PNGRenderer) line(spec *Spec) gochart.Chart {
	xs := make([]float64, len(spec.Values))
	ticks := make([]gochart.Tick, len(spec.Values))
	for i := range spec.Values {
		xs[i] = float64(i)
		ticks[i] = gochart.Tick{Value: float64(i), Label: spec.Labels[i]}
	}

	return gochart.Chart{
		Title:      spec.Title,
		Width:      p.Width,
		Height:     p.Height,
		Background: p.titleStyle(),
		XAxis: gochart.XAxis{
			Name:  spec.XLabel,
			Range: &gochart.ContinuousRange{Min: -0.5, Max: float64(len(xs)) - 0.5},
			Ticks: ticks,
		},
		YAxis: gochart.YAxis{Name: spec.YLabel},
		Series: []gochart.Series{
			gochart.ContinuousSeries{
				Name:    spec.YColumn,
				XValues: xs,
				YValues: spec.Values,
				Style: gochart.Style{
					StrokeColor: steelBlue,
					StrokeWidth: 2,
					DotColor:    steelBlue,
					DotWidth:    4,
				},
			},
		},
	}
}

// pie uses absolute values; slices are labelled with their share.
func (p *PNGRenderer) pie(spec *Spec) gochart.PieChart {
	var total float64
	for _, v := range spec.Values {
		total += math.Abs(v)
	}
	values := make([]gochart.Value, 0, len(spec.Values))
	for i, v := range spec.Values {
		if v == 0 {
			continue
		}
		values = append(values, gochart.Value{
			Label: fmt.Sprintf("%s (%.1f%%)", spec.Labels[i], math.Abs(v)/total*100),
			Value: math.Abs(v),
		})
	}
	return gochart.PieChart{
		Title:      spec.Title,
		Width:      p.Width,
		Height:     p.Height,
		Background: p.titleStyle(),
		Values:     values,
	}
}

var steelBlue = drawing.Color{R: 70, G: 130, B: 180, A: 255}

// Save renders spec into dir as chart_<uuid>.png and returns the path.
func Save(ctx context.Context, r Renderer, spec *Spec, dir string) (string, error) {
	img, err := r.Render(ctx, spec)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "chart_"+strings.ReplaceAll(uuid.NewString(), "-", "")+".png")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", fmt.Errorf("failed to write chart: %w", err)
	}
	return path, nil
}
