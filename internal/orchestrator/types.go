package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/finchat-dev/finchat/internal/chart"
	"github.com/finchat-dev/finchat/internal/shaper"
)

// Stage identifies a step of a run.
type Stage string

const (
	// StageSupervisor classifies the question.
	StageSupervisor Stage = "supervisor"

	// StageData generates, executes and shapes a query.
	StageData Stage = "data"

	// StageVisual plans and renders a chart.
	StageVisual Stage = "visual"

	// StageSynthesis writes the final answer.
	StageSynthesis Stage = "synthesis"

	// StageTerminal ends the run. It has no handler.
	StageTerminal Stage = "terminal"
)

// AllStages returns the stages that carry a handler, in nominal order.
func AllStages() []Stage {
	return []Stage{StageSupervisor, StageData, StageVisual, StageSynthesis}
}

// StageStatus is reported through progress callbacks.
type StageStatus string

const (
	StatusInProgress StageStatus = "in_progress"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
)

// Role marks who produced a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ErrorKind classifies a StageError.
type ErrorKind string

const (
	KindValidationRejection ErrorKind = "ValidationRejection"
	KindTransient           ErrorKind = "TransientStoreFailure"
	KindPermanent           ErrorKind = "PermanentStoreFailure"
	KindShapeMismatch       ErrorKind = "ShapeMismatch"
	KindPlanningRejection   ErrorKind = "PlanningRejection"
	KindUpstream            ErrorKind = "UpstreamCapabilityFailure"
)

// StageError is a failure captured at a stage boundary.
type StageError struct {
	Stage   Stage     `json:"stage"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *StageError) Error() string {
	return e.Message
}

// Fatal reports whether the error replaces the data summary. Visual stage
// failures only annotate the answer.
func (e *StageError) Fatal() bool {
	return e != nil && e.Stage != StageVisual
}

// ErrNoAnswer is returned by Run when no final answer could be produced.
var ErrNoAnswer = errors.New("no answer produced")

// RoutingDecision is the Supervisor's classification of a question.
type RoutingDecision struct {
	NeedsQuery bool       `json:"needs_sql"`
	NeedsChart bool       `json:"needs_viz"`
	ChartKind  chart.Kind `json:"chart_type"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// DefaultRoutingDecision is used whenever the Supervisor output is unusable.
func DefaultRoutingDecision() RoutingDecision {
	return RoutingDecision{NeedsQuery: true, NeedsChart: false, ChartKind: chart.KindNone}
}

// ConversationState is the record threaded through every stage of a run.
// Stages only touch their own fields; the Supervisor clears the downstream
// fields before anything else runs.
type ConversationState struct {
	History  []Turn
	Question string
	Routing  RoutingDecision

	GeneratedQuery string
	RawResult      json.RawMessage
	Table          *shaper.Table

	ChartSpec *chart.Spec
	ChartPath string

	Err *StageError

	FinalAnswer string
	Disclosed   bool
}

// NewConversationState builds the state for question. history must already
// end with the user turn for question.
func NewConversationState(history []Turn, question string) *ConversationState {
	h := make([]Turn, len(history))
	copy(h, history)
	return &ConversationState{
		History:  h,
		Question: question,
		Routing:  DefaultRoutingDecision(),
	}
}

// resetDownstream clears everything the later stages produce.
func (s *ConversationState) resetDownstream() {
	s.Routing = DefaultRoutingDecision()
	s.GeneratedQuery = ""
	s.RawResult = nil
	s.Table = nil
	s.ChartSpec = nil
	s.ChartPath = ""
	s.Err = nil
	s.FinalAnswer = ""
	s.Disclosed = false
}

// fail records a stage error. It never overwrites an earlier one.
func (s *ConversationState) fail(stage Stage, kind ErrorKind, format string, args ...any) {
	if s.Err != nil {
		return
	}
	s.Err = &StageError{Stage: stage, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Result is the artifact contract returned to callers after a run.
type Result struct {
	FinalAnswer    string          `json:"final_answer"`
	Table          *shaper.Table   `json:"table,omitempty"`
	Disclosed      bool            `json:"disclosed"`
	ChartReference string          `json:"chart_reference,omitempty"`
	ChartSpec      *chart.Spec     `json:"chart_spec,omitempty"`
	GeneratedQuery string          `json:"generated_query,omitempty"`
	RawResult      json.RawMessage `json:"raw_result,omitempty"`
	Routing        RoutingDecision `json:"routing"`
	Error          *StageError     `json:"error,omitempty"`
	History        []Turn          `json:"-"`
}

// ErrorText returns the error message, or "" when the run had none.
func (r *Result) ErrorText() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Message
}

func (s *ConversationState) result() *Result {
	return &Result{
		FinalAnswer:    s.FinalAnswer,
		Table:          s.Table,
		Disclosed:      s.Disclosed,
		ChartReference: s.ChartPath,
		ChartSpec:      s.ChartSpec,
		GeneratedQuery: s.GeneratedQuery,
		RawResult:      s.RawResult,
		Routing:        s.Routing,
		Error:          s.Err,
		History:        s.History,
	}
}
