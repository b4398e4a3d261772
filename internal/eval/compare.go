package eval

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Tolerance is the allowed absolute difference for numeric values, in CZK.
const Tolerance = 0.50

// Stage statuses.
const (
	StatusPass    = "PASS"
	StatusFail    = "FAIL"
	StatusError   = "ERROR"
	StatusSkipped = "SKIPPED"
)

// Root causes of a failed case.
const (
	CauseWrongSQL       = "WRONG_SQL"
	CauseWrongNarrative = "RIGHT_SQL_WRONG_NARRATIVE"
)

// SQLComparison is stage one: does the agent's result match ground truth.
type SQLComparison struct {
	Match            bool   `json:"sql_match"`
	Status           string `json:"sql_status"`
	Details          string `json:"sql_details"`
	GroundTruthValue any    `json:"ground_truth_value,omitempty"`
	ChatbotValue     any    `json:"chatbot_value,omitempty"`
}

// NarrativeCheck is stage two: is the answer text acceptable.
type NarrativeCheck struct {
	Issues  []string `json:"narrative_issues"`
	Status  string   `json:"narrative_status"`
	Details string   `json:"narrative_details"`
}

var chartWords = []string{"chart", "visual", "graph", "visualization"}

// CompareValues compares the ground-truth value with the agent's. Numbers
// match within Tolerance; anything else must be equal.
func CompareValues(truth, got any, truthFound, gotFound bool) SQLComparison {
	if !truthFound {
		return SQLComparison{Status: StatusFail, Details: "Ground truth returned no rows"}
	}
	if !gotFound {
		return SQLComparison{Status: StatusFail, Details: "Chatbot SQL returned no rows"}
	}

	var match bool
	tf, tok := toFloat(truth)
	gf, gok := toFloat(got)
	if tok && gok {
		match = math.Abs(tf-gf) <= Tolerance
	} else {
		match = fmt.Sprint(truth) == fmt.Sprint(got)
	}

	status := StatusFail
	if match {
		status = StatusPass
	}
	return SQLComparison{
		Match:            match,
		Status:           status,
		Details:          fmt.Sprintf("Ground truth: %v, Chatbot SQL result: %v", truth, got),
		GroundTruthValue: truth,
		ChatbotValue:     got,
	}
}

// CheckNarrative looks for a dollar currency, a mentioned chart and, for
// spending aggregations with a negative result, a dollar-signed negative.
func CheckNarrative(answer string, c Case, firstValue any) NarrativeCheck {
	var issues []string

	if strings.Contains(answer, "$") && !strings.Contains(answer, "CZK") {
		issues = append(issues, "CURRENCY_ERROR: Uses '$' instead of 'CZK'")
	}

	lower := strings.ToLower(answer)
	for _, w := range chartWords {
		if strings.Contains(lower, w) {
			issues = append(issues, "VIZ_HALLUCINATION: Mentions chart/visualization in CLI mode")
			break
		}
	}

	if c.Category == "aggregation" && strings.Contains(strings.ToLower(c.Question), "spending") {
		if v, ok := toFloat(firstValue); ok && v < 0 &&
			strings.Contains(answer, "$") && strings.Contains(answer, "-") {
			issues = append(issues, "SIGN_ERROR: Reports negative spending with wrong currency")
		}
	}

	if len(issues) == 0 {
		return NarrativeCheck{Issues: []string{}, Status: StatusPass, Details: "Narrative looks correct"}
	}
	return NarrativeCheck{Issues: issues, Status: StatusFail, Details: strings.Join(issues, "; ")}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
