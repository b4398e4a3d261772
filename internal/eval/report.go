package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Summary counts case statuses.
type Summary struct {
	Total    int    `json:"total"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	Errors   int    `json:"errors"`
	PassRate string `json:"pass_rate"`
}

// Report is the written evaluation result.
type Report struct {
	RunTimestamp     time.Time      `json:"run_timestamp"`
	TestSuite        string         `json:"test_suite"`
	AsOfDate         string         `json:"as_of_date"`
	Summary          Summary        `json:"summary"`
	FailureBreakdown map[string]int `json:"failure_breakdown"`
	Results          []CaseResult   `json:"results"`
}

// NewReport summarises results.
func NewReport(s *Suite, results []CaseResult, at time.Time) *Report {
	r := &Report{
		RunTimestamp: at,
		TestSuite:    s.Name,
		AsOfDate:     s.AsOfDate,
		FailureBreakdown: map[string]int{
			CauseWrongSQL:       0,
			CauseWrongNarrative: 0,
		},
		Results: results,
	}
	r.Summary.Total = len(results)
	for _, res := range results {
		switch res.Status {
		case StatusPass:
			r.Summary.Passed++
		case StatusFail:
			r.Summary.Failed++
		case StatusError:
			r.Summary.Errors++
		}
		if res.RootCause != nil {
			r.FailureBreakdown[*res.RootCause]++
		}
	}
	r.Summary.PassRate = "0%"
	if r.Summary.Total > 0 {
		r.Summary.PassRate = fmt.Sprintf("%.1f%%", float64(r.Summary.Passed)/float64(r.Summary.Total)*100)
	}
	return r
}

// Write stores the report as smoke_suite_<timestamp>.json in dir and
// returns its path.
func (r *Report) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	path := filepath.Join(dir, "smoke_suite_"+r.RunTimestamp.Format("20060102_150405")+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
