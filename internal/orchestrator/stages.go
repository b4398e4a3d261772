package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/finchat-dev/finchat/internal/chart"
	"github.com/finchat-dev/finchat/internal/llm"
	"github.com/finchat-dev/finchat/internal/logging"
	"github.com/finchat-dev/finchat/internal/query"
	"github.com/finchat-dev/finchat/internal/shaper"
)

// StageHandler runs one stage against the shared state. A returned error is
// converted into a StageError by the Orchestrator, except for the Synthesis
// stage where it is fatal.
type StageHandler interface {
	Stage() Stage
	Execute(ctx context.Context, state *ConversationState) error
}

// QueryExecutor runs a generated query through the safety gate and store.
type QueryExecutor interface {
	Execute(ctx context.Context, query string, allowRetry bool) query.Outcome
}

// disclosureRowLimit is the largest result shown without an explicit request.
const disclosureRowLimit = 10

// disclosureKeywords mark a question as an explicit request for rows.
var disclosureKeywords = map[string]bool{
	"show":         true,
	"list":         true,
	"display":      true,
	"table":        true,
	"data":         true,
	"transactions": true,
}

// Supervisor classifies the question.
type Supervisor struct {
	llm    llm.Completer
	logger *logging.Logger
}

// NewSupervisor creates the routing stage.
func NewSupervisor(c llm.Completer, logger *logging.Logger) *Supervisor {
	return &Supervisor{llm: c, logger: logger}
}

func (s *Supervisor) Stage() Stage { return StageSupervisor }

// Execute clears downstream fields and sets state.Routing. A failed model
// call leaves the default decision in place.
func (s *Supervisor) Execute(ctx context.Context, state *ConversationState) error {
	state.resetDownstream()

	reply, err := s.llm.Complete(ctx, supervisorPrompt, supervisorUserMessage(state.Question))
	if err != nil {
		s.logger.Warn(ctx, "routing failed, falling back to query only", zap.Error(err))
		return nil
	}
	state.Routing = ParseRoutingDecision(reply)
	s.logger.Debug(ctx, "routing decided",
		zap.Bool("needs_query", state.Routing.NeedsQuery),
		zap.Bool("needs_chart", state.Routing.NeedsChart),
		zap.String("chart_kind", string(state.Routing.ChartKind)))
	return nil
}

// DataStage generates a query, executes it and shapes the outcome.
type DataStage struct {
	llm        llm.Completer
	executor   QueryExecutor
	schema     string
	driver     string
	allowRetry bool
	logger     *logging.Logger
}

// NewDataStage creates the data stage. schema is the prompt text describing
// the database; driver selects the SQL dialect wording.
func NewDataStage(c llm.Completer, exec QueryExecutor, schema, driver string, allowRetry bool, logger *logging.Logger) *DataStage {
	return &DataStage{llm: c, executor: exec, schema: schema, driver: driver, allowRetry: allowRetry, logger: logger}
}

func (d *DataStage) Stage() Stage { return StageData }

// Execute leaves either state.Table or state.Err set, never both.
func (d *DataStage) Execute(ctx context.Context, state *ConversationState) error {
	prompt := queryPrompt(d.schema, d.driver, state.Routing, state.History)
	reply, err := d.llm.Complete(ctx, prompt, queryUserMessage(state.Question))
	if err != nil {
		state.fail(StageData, KindUpstream, "SQL Agent error: %v", err)
		return nil
	}

	q := llm.StripFence(reply)
	if q == "" {
		state.fail(StageData, KindUpstream, "SQL Agent error: empty query")
		return nil
	}
	state.GeneratedQuery = q

	out := d.executor.Execute(ctx, q, d.allowRetry)
	state.RawResult = out.JSON()

	shaped := shaper.Shape(out)
	switch shaped.Kind {
	case shaper.KindError:
		kind := KindShapeMismatch
		if out.Failure != nil {
			kind = failureKind(out.Failure.Kind)
		}
		state.fail(StageData, kind, "SQL Error: %s", shaped.Message)
	case shaper.KindEmpty:
		cols := out.Columns
		if cols == nil {
			cols = []string{}
		}
		state.Table = &shaper.Table{Columns: cols, Rows: [][]any{}}
	default:
		state.Table = shaped.Table
	}
	return nil
}

func failureKind(k query.Kind) ErrorKind {
	switch k {
	case query.KindValidationRejection:
		return KindValidationRejection
	case query.KindTransient:
		return KindTransient
	default:
		return KindPermanent
	}
}

// VisualStage plans a chart over state.Table and renders it into dir.
type VisualStage struct {
	renderer chart.Renderer
	dir      string
	logger   *logging.Logger
}

// NewVisualStage creates the chart stage.
func NewVisualStage(r chart.Renderer, dir string, logger *logging.Logger) *VisualStage {
	return &VisualStage{renderer: r, dir: dir, logger: logger}
}

func (v *VisualStage) Stage() Stage { return StageVisual }

// Execute records planning and render failures as non-fatal stage errors.
func (v *VisualStage) Execute(ctx context.Context, state *ConversationState) error {
	spec, err := chart.Plan(state.Table, state.Routing.ChartKind, state.Question)
	if err != nil {
		v.logger.Info(ctx, "chart planning rejected", zap.Error(err))
		state.fail(StageVisual, KindPlanningRejection, "%s", upperFirst(err.Error()))
		return nil
	}
	state.ChartSpec = spec

	path, err := chart.Save(ctx, v.renderer, spec, v.dir)
	if err != nil {
		v.logger.Warn(ctx, "chart rendering failed", zap.Error(err))
		state.fail(StageVisual, KindUpstream, "Visualization error: %v", err)
		return nil
	}
	state.ChartPath = path
	return nil
}

// SynthesisStage writes the final answer and appends it to the history.
type SynthesisStage struct {
	llm    llm.Completer
	logger *logging.Logger
}

// NewSynthesisStage creates the answer stage.
func NewSynthesisStage(c llm.Completer, logger *logging.Logger) *SynthesisStage {
	return &SynthesisStage{llm: c, logger: logger}
}

func (s *SynthesisStage) Stage() Stage { return StageSynthesis }

// Execute always sets state.FinalAnswer. Model failures fall back to a
// fixed text so the run still completes.
func (s *SynthesisStage) Execute(ctx context.Context, state *ConversationState) error {
	var answer string
	if state.Err.Fatal() {
		answer = s.explain(ctx, state)
	} else {
		answer = s.summarise(ctx, state)
		if state.ChartPath != "" {
			answer += "\n\nChart saved to: " + state.ChartPath
		}
	}

	state.FinalAnswer = answer
	state.Disclosed = disclose(state.Question, state.Table)
	state.History = append(state.History, Turn{Role: RoleAssistant, Content: answer})
	return nil
}

func (s *SynthesisStage) explain(ctx context.Context, state *ConversationState) string {
	reply, err := s.llm.Complete(ctx, errorPrompt(state.Question, state.Err.Message), errorUserMessage)
	if err != nil {
		s.logger.Warn(ctx, "error explanation failed", zap.Error(err))
		return "Sorry, I could not answer that. " + state.Err.Message
	}
	if reply = strings.TrimSpace(reply); reply == "" {
		return "Sorry, I could not answer that. " + state.Err.Message
	}
	return reply
}

func (s *SynthesisStage) summarise(ctx context.Context, state *ConversationState) string {
	reply, err := s.llm.Complete(ctx, summaryPrompt(state), summaryUserMessage)
	if err != nil {
		s.logger.Warn(ctx, "summary failed", zap.Error(err))
		state.fail(StageSynthesis, KindUpstream, "Error generating response: %v", err)
		return "Error generating response: " + err.Error()
	}
	if reply = strings.TrimSpace(reply); reply != "" {
		return reply
	}

	switch {
	case state.Table == nil:
		return "I don't have an answer for that."
	case state.Table.TotalRowCount == 0:
		return "No matching records found."
	default:
		return fmt.Sprintf("The query returned %d rows.", state.Table.TotalRowCount)
	}
}

// disclose reports whether table should be shown alongside the answer.
func disclose(question string, table *shaper.Table) bool {
	if table == nil {
		return false
	}
	if table.TotalRowCount <= disclosureRowLimit {
		return true
	}
	for _, w := range strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if disclosureKeywords[w] {
			return true
		}
	}
	return false
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
