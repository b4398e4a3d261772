package eval

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchat-dev/finchat/internal/orchestrator"
	"github.com/finchat-dev/finchat/internal/query"
	"github.com/finchat-dev/finchat/internal/shaper"
)

type fakeTruth map[string]query.Outcome

func (f fakeTruth) Execute(_ context.Context, q string, _ bool) query.Outcome {
	return f[q]
}

type fakeAsker map[string]struct {
	text string
	err  error
}

func (f fakeAsker) Transcript(_ context.Context, question string) (string, error) {
	r := f[question]
	return r.text, r.err
}

type fakeRunner struct{ res *orchestrator.Result }

func (f fakeRunner) Run(_ context.Context, _ []orchestrator.Turn, _ string) (*orchestrator.Result, error) {
	return f.res, nil
}

func truthValue(v any) query.Outcome {
	return query.Outcome{Records: []query.Record{{{Name: "total", Value: v}}}, Attempts: 1}
}

func audit(question, result, answer string) string {
	return orchestrator.AuditStart + "\n" +
		"QUESTION: " + question + "\n" +
		"SQL_GENERATED: SELECT SUM(Amount) AS total FROM Transactions\n" +
		"RESULT_COUNT: 1\n" +
		"SQL_RESULT: " + result + "\n" +
		"FINAL_ANSWER: " + answer + "\n" +
		orchestrator.AuditEnd + "\n"
}

var fixedNow = time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)

func TestParseSuite(t *testing.T) {
	t.Run("object form", func(t *testing.T) {
		s, err := ParseSuite([]byte(`{
			"test_suite": "smoke",
			"as_of_date": "2025-12-31",
			"test_cases": [{"id": "T1", "category": "aggregation", "question": "q", "sql_validation": "SELECT 1", "expected_value": 1}]
		}`))
		require.NoError(t, err)
		assert.Equal(t, "smoke", s.Name)
		assert.Equal(t, "2025-12-31", s.AsOfDate)
		require.Len(t, s.TestCases, 1)
		assert.Equal(t, "SELECT 1", s.TestCases[0].SQLValidation)
	})

	t.Run("array form", func(t *testing.T) {
		s, err := ParseSuite([]byte(`[{"id": "T1", "question": "q", "sql_validation": "SELECT 1"}]`))
		require.NoError(t, err)
		assert.Len(t, s.TestCases, 1)
	})

	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", `{"test_cases": []}`, "no cases"},
		{"missing id", `[{"question": "q", "sql_validation": "x"}]`, "id is required"},
		{"duplicate id", `[{"id": "a", "question": "q", "sql_validation": "x"}, {"id": "a", "question": "q", "sql_validation": "x"}]`, "duplicate id"},
		{"missing question", `[{"id": "a", "sql_validation": "x"}]`, "question is required"},
		{"missing sql", `[{"id": "a", "question": "q"}]`, "sql_validation is required"},
		{"invalid json", `{`, "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuite([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name   string
		truth  any
		got    any
		status string
	}{
		{"within tolerance", -1234.5, -1234.9, StatusPass},
		{"at tolerance", int64(100), 100.5, StatusPass},
		{"outside tolerance", 100.0, 101.0, StatusFail},
		{"equal strings", "food", "food", StatusPass},
		{"different strings", "food", "fuel", StatusFail},
		{"json number", json.Number("42"), 42.2, StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompareValues(tt.truth, tt.got, true, true)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.status == StatusPass, got.Match)
		})
	}

	assert.Equal(t, "Ground truth returned no rows", CompareValues(nil, 1, false, true).Details)
	assert.Equal(t, "Chatbot SQL returned no rows", CompareValues(1, nil, true, false).Details)
}

func TestCheckNarrative(t *testing.T) {
	spend := Case{Category: "aggregation", Question: "What was my spending in May?"}

	ok := CheckNarrative("You spent 1,234.50 CZK.", spend, -1234.5)
	assert.Equal(t, StatusPass, ok.Status)
	assert.Empty(t, ok.Issues)

	bad := CheckNarrative("You spent -$1,234.50. See the chart.", spend, -1234.5)
	assert.Equal(t, StatusFail, bad.Status)
	require.Len(t, bad.Issues, 3)
	assert.Contains(t, bad.Issues[0], "CURRENCY_ERROR")
	assert.Contains(t, bad.Issues[1], "VIZ_HALLUCINATION")
	assert.Contains(t, bad.Issues[2], "SIGN_ERROR")
}

func TestEvaluate(t *testing.T) {
	truth := fakeTruth{
		"SELECT pass":  truthValue(-1234.5),
		"SELECT wrong": truthValue(10.0),
		"SELECT fail":  {Failure: &query.Failure{Kind: query.KindPermanent, Message: "Invalid column name"}},
	}
	asker := fakeAsker{
		"pass":      {text: audit("pass", `[{"total": -1234.7}]`, "You spent 1,234.70 CZK.")},
		"wrong":     {text: audit("wrong", `[{"total": 12}]`, "12 CZK")},
		"narrative": {text: audit("narrative", `[{"total": -1234.5}]`, "You spent $1,234.50")},
		"noaudit":   {text: "Hello!"},
		"boom":      {err: errors.New("upstream down")},
	}
	e, err := New(asker, truth, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	ctx := context.Background()

	r := e.Evaluate(ctx, Case{ID: "T1", Question: "pass", SQLValidation: "SELECT pass"})
	assert.Equal(t, StatusPass, r.Status)
	assert.Nil(t, r.RootCause)
	assert.Equal(t, StatusPass, r.Narrative.Status)
	assert.Equal(t, fixedNow, r.Timestamp)

	r = e.Evaluate(ctx, Case{ID: "T2", Question: "wrong", SQLValidation: "SELECT wrong"})
	assert.Equal(t, StatusFail, r.Status)
	require.NotNil(t, r.RootCause)
	assert.Equal(t, CauseWrongSQL, *r.RootCause)
	assert.Equal(t, StatusSkipped, r.Narrative.Status)

	r = e.Evaluate(ctx, Case{ID: "T3", Question: "narrative", SQLValidation: "SELECT pass"})
	assert.Equal(t, StatusFail, r.Status)
	assert.Equal(t, CauseWrongNarrative, *r.RootCause)

	r = e.Evaluate(ctx, Case{ID: "T4", Question: "pass", SQLValidation: "SELECT fail"})
	assert.Equal(t, StatusFail, r.Status)
	assert.Contains(t, r.SQL.Details, "Invalid column name")

	r = e.Evaluate(ctx, Case{ID: "T5", Question: "noaudit", SQLValidation: "SELECT pass"})
	assert.Equal(t, StatusError, r.Status)
	assert.Equal(t, orchestrator.ErrNoAudit.Error(), r.Error)
	assert.Equal(t, "Hello!", r.Output)

	r = e.Evaluate(ctx, Case{ID: "T6", Question: "boom", SQLValidation: "SELECT pass"})
	assert.Equal(t, StatusError, r.Status)
	assert.Equal(t, "upstream down", r.Error)
}

func TestRunAndWriteReport(t *testing.T) {
	truth := fakeTruth{"SELECT 1": truthValue(int64(5))}
	asker := fakeAsker{
		"a": {text: audit("a", `[{"n": 5}]`, "5 transactions")},
		"b": {text: audit("b", `[{"n": 7}]`, "7 transactions")},
		"c": {err: errors.New("x")},
	}
	e, err := New(asker, truth, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	suite := &Suite{Name: "smoke", AsOfDate: "2025-12-31", TestCases: []Case{
		{ID: "A", Question: "a", SQLValidation: "SELECT 1"},
		{ID: "B", Question: "b", SQLValidation: "SELECT 1"},
		{ID: "C", Question: "c", SQLValidation: "SELECT 1"},
	}}

	var seen []string
	report, err := e.Run(context.Background(), suite, func(r CaseResult) { seen = append(seen, r.ID) })
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, seen)
	assert.Equal(t, Summary{Total: 3, Passed: 1, Failed: 1, Errors: 1, PassRate: "33.3%"}, report.Summary)
	assert.Equal(t, 1, report.FailureBreakdown[CauseWrongSQL])
	assert.Equal(t, 0, report.FailureBreakdown[CauseWrongNarrative])

	dir := t.TempDir()
	path, err := report.Write(filepath.Join(dir, "reports"))
	require.NoError(t, err)
	assert.Equal(t, "smoke_suite_20260301_123045.json", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "smoke", decoded["test_suite"])
	assert.Len(t, decoded["results"], 3)
}

func TestRun_StopsOnCancel(t *testing.T) {
	e, err := New(fakeAsker{}, fakeTruth{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx, &Suite{TestCases: []Case{{ID: "A", Question: "a", SQLValidation: "x"}}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAgentAsker(t *testing.T) {
	res := &orchestrator.Result{
		FinalAnswer:    "You have 5 transactions.",
		GeneratedQuery: "SELECT COUNT(*) AS n FROM Transactions",
		RawResult:      json.RawMessage(`[{"n":5}]`),
		Table:          &shaper.Table{Columns: []string{"n"}, Rows: [][]any{{int64(5)}}, TotalRowCount: 1},
	}
	text, err := AgentAsker{Runner: fakeRunner{res: res}}.Transcript(context.Background(), "how many?")
	require.NoError(t, err)

	rec, err := orchestrator.ParseAudit(text)
	require.NoError(t, err)
	assert.Equal(t, "how many?", rec.Question)
	assert.Equal(t, float64(5), rec.FirstValue())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, fakeTruth{})
	assert.Error(t, err)
	_, err = New(fakeAsker{}, nil)
	assert.Error(t, err)
}
