package orchestrator

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/finchat-dev/finchat/internal/chart"
	"github.com/finchat-dev/finchat/internal/llm"
)

// ParseRoutingDecision reads the Supervisor's JSON reply. It never fails:
// unusable output yields DefaultRoutingDecision, and missing or mistyped
// fields fall back to their defaults one by one.
func ParseRoutingDecision(raw string) RoutingDecision {
	d := DefaultRoutingDecision()

	body := extractObject(llm.StripFence(raw))
	if body == "" || !gjson.Valid(body) {
		return d
	}
	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return d
	}

	if v := doc.Get("needs_sql"); v.IsBool() {
		d.NeedsQuery = v.Bool()
	}
	if v := doc.Get("needs_viz"); v.IsBool() {
		d.NeedsChart = v.Bool()
	}
	d.Reasoning = doc.Get("reasoning").String()

	if !d.NeedsQuery {
		d.NeedsChart = false
	}
	if !d.NeedsChart {
		d.ChartKind = chart.KindNone
		return d
	}

	kind, ok := chart.ParseKind(doc.Get("chart_type").String())
	if !ok || kind == chart.KindNone {
		kind = chart.KindBar
	}
	d.ChartKind = kind
	return d
}

// extractObject trims any prose around the outermost JSON object.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
