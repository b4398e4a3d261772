package orchestrator

import "fmt"

// Guard decides whether a transition applies to state.
type Guard func(state *ConversationState) bool

// Transition is one row of the routing table.
type Transition struct {
	From  Stage
	Name  string
	Guard Guard
	To    Stage
}

func always(*ConversationState) bool { return true }

func hasError(s *ConversationState) bool { return s.Err != nil }

// Transitions returns the routing table. Rows are evaluated in order and
// the first matching guard wins.
func Transitions() []Transition {
	return []Transition{
		{From: StageSupervisor, Name: "error", To: StageSynthesis, Guard: hasError},
		{From: StageSupervisor, Name: "needs_query", To: StageData,
			Guard: func(s *ConversationState) bool { return s.Routing.NeedsQuery }},
		{From: StageSupervisor, Name: "direct", To: StageSynthesis, Guard: always},

		{From: StageData, Name: "error", To: StageSynthesis, Guard: hasError},
		{From: StageData, Name: "needs_chart", To: StageVisual,
			Guard: func(s *ConversationState) bool { return s.Routing.NeedsChart && s.Table != nil }},
		{From: StageData, Name: "summarise", To: StageSynthesis, Guard: always},

		{From: StageVisual, Name: "summarise", To: StageSynthesis, Guard: always},

		{From: StageSynthesis, Name: "done", To: StageTerminal, Guard: always},
	}
}

// Next returns the stage that follows from.
func Next(table []Transition, from Stage, state *ConversationState) (Stage, error) {
	for _, t := range table {
		if t.From == from && t.Guard(state) {
			return t.To, nil
		}
	}
	return StageTerminal, fmt.Errorf("no transition from stage %s", from)
}
