package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchat-dev/finchat/internal/chart"
	"github.com/finchat-dev/finchat/internal/shaper"
)

func TestParseRoutingDecision(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want RoutingDecision
	}{
		{
			name: "query only",
			raw:  `{"needs_sql": true, "needs_viz": false, "chart_type": null}`,
			want: RoutingDecision{NeedsQuery: true, ChartKind: chart.KindNone},
		},
		{
			name: "fenced line chart",
			raw:  "```json\n{\"needs_sql\": true, \"needs_viz\": true, \"chart_type\": \"line\", \"reasoning\": \"trend\"}\n```",
			want: RoutingDecision{NeedsQuery: true, NeedsChart: true, ChartKind: chart.KindLine, Reasoning: "trend"},
		},
		{
			name: "prose around object",
			raw:  `Sure! {"needs_sql": true, "needs_viz": true, "chart_type": "PIE"} Hope that helps.`,
			want: RoutingDecision{NeedsQuery: true, NeedsChart: true, ChartKind: chart.KindPie},
		},
		{
			name: "no data needed",
			raw:  `{"needs_sql": false, "needs_viz": false}`,
			want: RoutingDecision{NeedsQuery: false, ChartKind: chart.KindNone},
		},
		{
			name: "chart without data is dropped",
			raw:  `{"needs_sql": false, "needs_viz": true, "chart_type": "bar"}`,
			want: RoutingDecision{NeedsQuery: false, ChartKind: chart.KindNone},
		},
		{
			name: "unknown chart kind becomes bar",
			raw:  `{"needs_sql": true, "needs_viz": true, "chart_type": "radar"}`,
			want: RoutingDecision{NeedsQuery: true, NeedsChart: true, ChartKind: chart.KindBar},
		},
		{
			name: "missing fields use defaults",
			raw:  `{"reasoning": "unsure"}`,
			want: RoutingDecision{NeedsQuery: true, ChartKind: chart.KindNone, Reasoning: "unsure"},
		},
		{
			name: "mistyped flag uses default",
			raw:  `{"needs_sql": "yes", "needs_viz": false}`,
			want: RoutingDecision{NeedsQuery: true, ChartKind: chart.KindNone},
		},
		{name: "not json", raw: "I think you need SQL", want: DefaultRoutingDecision()},
		{name: "truncated json", raw: `{"needs_sql": true, "needs_viz":`, want: DefaultRoutingDecision()},
		{name: "empty", raw: "", want: DefaultRoutingDecision()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRoutingDecision(tt.raw))
		})
	}
}

func TestNext(t *testing.T) {
	table := &shaper.Table{Columns: []string{"a"}, Rows: [][]any{{1}}, TotalRowCount: 1}

	tests := []struct {
		name  string
		from  Stage
		state ConversationState
		want  Stage
	}{
		{"supervisor to data", StageSupervisor, ConversationState{Routing: RoutingDecision{NeedsQuery: true}}, StageData},
		{"supervisor direct", StageSupervisor, ConversationState{}, StageSynthesis},
		{"supervisor error", StageSupervisor, ConversationState{
			Routing: RoutingDecision{NeedsQuery: true},
			Err:     &StageError{Stage: StageSupervisor},
		}, StageSynthesis},
		{"data error", StageData, ConversationState{
			Routing: RoutingDecision{NeedsQuery: true, NeedsChart: true},
			Err:     &StageError{Stage: StageData},
		}, StageSynthesis},
		{"data to visual", StageData, ConversationState{
			Routing: RoutingDecision{NeedsQuery: true, NeedsChart: true},
			Table:   table,
		}, StageVisual},
		{"data without chart", StageData, ConversationState{Table: table}, StageSynthesis},
		{"visual", StageVisual, ConversationState{Err: &StageError{Stage: StageVisual}}, StageSynthesis},
		{"synthesis", StageSynthesis, ConversationState{}, StageTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := tt.state
			got, err := Next(Transitions(), tt.from, &state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Next(Transitions(), StageTerminal, &ConversationState{})
	assert.Error(t, err)
}

func TestDisclose(t *testing.T) {
	small := &shaper.Table{TotalRowCount: 5}
	large := &shaper.Table{TotalRowCount: 40}

	assert.True(t, disclose("show last 5 transactions", small))
	assert.True(t, disclose("how much did I spend", small))
	assert.True(t, disclose("List all payments", large))
	assert.True(t, disclose("give me the data", large))
	assert.False(t, disclose("how much did I spend per merchant", large))
	assert.False(t, disclose("showcase merchants", large), "keywords match whole words only")
	assert.False(t, disclose("show everything", nil))
}

func TestConversationContext(t *testing.T) {
	assert.Empty(t, conversationContext(userTurn("only question")))

	var history []Turn
	for i := 0; i < 8; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		history = append(history, Turn{Role: role, Content: string(rune('a'+i)) + "-turn"})
	}
	history = append(history, Turn{Role: RoleAssistant, Content: strings.Repeat("x", 400)})
	history = append(history, Turn{Role: RoleUser, Content: "current"})

	got := conversationContext(history)
	assert.Contains(t, got, "=== CONVERSATION CONTEXT (CRITICAL - READ CAREFULLY) ===")
	assert.Contains(t, got, "=== END CONTEXT ===")
	assert.NotContains(t, got, "a-turn")
	assert.NotContains(t, got, "c-turn")
	assert.Contains(t, got, "User: e-turn")
	assert.Contains(t, got, "Assistant: h-turn")
	assert.Contains(t, got, "Assistant: "+strings.Repeat("x", contextTurnChars)+"\n")
	assert.NotContains(t, got, strings.Repeat("x", contextTurnChars+1))
	assert.NotContains(t, got, "current")
}

func TestQueryPrompt(t *testing.T) {
	routing := RoutingDecision{NeedsQuery: true, NeedsChart: true, ChartKind: chart.KindLine}
	p := queryPrompt("Table: Transactions", "sqlserver", routing, userTurn("q"))

	assert.Contains(t, p, "Database Schema:\nTable: Transactions")
	assert.Contains(t, p, "IMPORTANT: The results will be used for a line chart.")
	assert.Contains(t, p, "Use proper SQL Server syntax")
	assert.Contains(t, p, "GETDATE()")
	assert.NotContains(t, p, "CONVERSATION CONTEXT")

	p = queryPrompt("schema", "sqlite", RoutingDecision{NeedsQuery: true}, userTurn("q"))
	assert.Contains(t, p, "Use proper SQLite syntax")
	assert.NotContains(t, p, "IMPORTANT: The results")
}

func TestSummaryPrompt(t *testing.T) {
	state := &ConversationState{
		Question:       "Total spend?",
		GeneratedQuery: "SELECT SUM(Amount) FROM Transactions",
		RawResult:      []byte(`[{"total":-10}]`),
	}
	p := summaryPrompt(state)
	assert.Contains(t, p, `User asked: "Total spend?"`)
	assert.Contains(t, p, "SQL query executed: SELECT SUM(Amount) FROM Transactions")
	assert.Contains(t, p, `Query results: [{"total":-10}]`)
	assert.Contains(t, p, "never '$'")
	assert.NotContains(t, p, "A chart has been generated")

	state.ChartPath = "/tmp/chart_1.png"
	assert.Contains(t, summaryPrompt(state), "A chart has been generated and saved to: /tmp/chart_1.png")
}
