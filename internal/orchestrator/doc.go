// Package orchestrator answers one natural-language finance question per run.
//
// # Overview
//
// A run walks a fixed set of stages over a shared ConversationState:
//
//	Supervisor → Data → (Visual) → Synthesis → Terminal
//
// The Supervisor classifies the question into a RoutingDecision. The Data
// stage asks the language model for a query, executes it through the
// query.Executor and shapes the outcome. The Visual stage plans and renders
// a chart. The Synthesis stage writes the final answer.
//
// # Transitions
//
// Routing lives in a single table (see Transitions). Each row names a source
// stage, a guard over the state and a destination; the first matching row
// wins. Stage handlers never pick their successor.
//
// # Failure Handling
//
// Stage failures are caught at the stage boundary and recorded as a
// StageError on the state. Synthesis then explains the error instead of
// summarising data. A failure in the Visual stage is not fatal: the data
// summary is still produced and the chart error is carried as a note.
//
// Only a run that cannot produce any final answer returns an error
// (ErrNoAnswer). Callers use that to discard the user turn they appended.
//
// # Audit
//
// WriteAudit renders the line-oriented audit block consumed by the
// evaluation harness; ParseAudit reads it back.
package orchestrator
