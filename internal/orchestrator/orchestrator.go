package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/finchat-dev/finchat/internal/chart"
	"github.com/finchat-dev/finchat/internal/llm"
	"github.com/finchat-dev/finchat/internal/logging"
)

var tracer = otel.Tracer("finchat/orchestrator")

// StageProgress reports progress during a run.
type StageProgress struct {
	Stage   Stage       `json:"stage"`
	Status  StageStatus `json:"status"`
	Message string      `json:"message"`
	Step    int         `json:"step"`
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(progress StageProgress)

// Orchestrator drives a run through the stage graph.
type Orchestrator struct {
	handlers         map[Stage]StageHandler
	transitions      []Transition
	logger           *logging.Logger
	progressCallback ProgressCallback
}

// New creates an orchestrator with the default transition table and no
// handlers.
func New(logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		handlers:    make(map[Stage]StageHandler),
		transitions: Transitions(),
		logger:      logger,
	}
}

// Dependencies wires the four default stages.
type Dependencies struct {
	LLM        llm.Completer
	Executor   QueryExecutor
	Renderer   chart.Renderer
	Schema     string
	Driver     string
	ChartDir   string
	AllowRetry bool
	Logger     *logging.Logger
}

// NewDefault creates an orchestrator with all stages registered.
func NewDefault(d Dependencies) *Orchestrator {
	o := New(d.Logger)
	o.RegisterHandler(NewSupervisor(d.LLM, o.logger.Named("supervisor")))
	o.RegisterHandler(NewDataStage(d.LLM, d.Executor, d.Schema, d.Driver, d.AllowRetry, o.logger.Named("data")))
	o.RegisterHandler(NewVisualStage(d.Renderer, d.ChartDir, o.logger.Named("visual")))
	o.RegisterHandler(NewSynthesisStage(d.LLM, o.logger.Named("synthesis")))
	return o
}

// RegisterHandler registers a stage handler, replacing any previous one.
func (o *Orchestrator) RegisterHandler(handler StageHandler) {
	o.handlers[handler.Stage()] = handler
}

// OnProgress sets the progress callback.
func (o *Orchestrator) OnProgress(callback ProgressCallback) {
	o.progressCallback = callback
}

// Run answers question. history is the conversation so far and must end with
// the user turn for question; it is not modified. The returned Result carries
// the extended history.
//
// Run fails only with ErrNoAnswer, when no final answer could be produced.
func (o *Orchestrator) Run(ctx context.Context, history []Turn, question string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.run")
	defer span.End()

	start := time.Now()
	state := NewConversationState(history, question)

	// The graph is acyclic; the bound only catches a broken table.
	maxSteps := len(o.transitions) + 1

	stage := StageSupervisor
	for step := 1; stage != StageTerminal; step++ {
		if step > maxSteps {
			return o.abort(ctx, span, fmt.Errorf("%w: step limit exceeded", ErrNoAnswer))
		}

		if err := o.runStage(ctx, stage, step, state); err != nil {
			return o.abort(ctx, span, err)
		}

		next, err := Next(o.transitions, stage, state)
		if err != nil {
			return o.abort(ctx, span, fmt.Errorf("%w: %v", ErrNoAnswer, err))
		}
		stage = next
	}

	if state.FinalAnswer == "" {
		return o.abort(ctx, span, fmt.Errorf("%w: synthesis produced an empty answer", ErrNoAnswer))
	}

	span.SetAttributes(
		attribute.Bool("orchestrator.needs_query", state.Routing.NeedsQuery),
		attribute.Bool("orchestrator.needs_chart", state.Routing.NeedsChart),
		attribute.Bool("orchestrator.error", state.Err != nil),
	)
	o.logger.Info(ctx, "run completed",
		zap.Duration("duration", time.Since(start)),
		zap.Bool("has_table", state.Table != nil),
		zap.Bool("has_chart", state.ChartPath != ""),
		zap.String("error", state.Err.messageOrEmpty()))

	return state.result(), nil
}

func (o *Orchestrator) abort(ctx context.Context, span trace.Span, err error) (*Result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.logger.Error(ctx, "run failed", zap.Error(err))
	return nil, err
}

// runStage executes one handler. Handler errors and panics become stage
// errors, except in synthesis where they end the run.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, step int, state *ConversationState) error {
	handler, ok := o.handlers[stage]
	if !ok {
		return fmt.Errorf("%w: no handler registered for stage %s", ErrNoAnswer, stage)
	}

	ctx, span := tracer.Start(ctx, "orchestrator."+string(stage))
	defer span.End()

	o.reportProgress(StageProgress{
		Stage:   stage,
		Status:  StatusInProgress,
		Message: fmt.Sprintf("Starting stage: %s", stage),
		Step:    step,
	})

	err := safeExecute(ctx, handler, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.reportProgress(StageProgress{Stage: stage, Status: StatusFailed, Message: err.Error(), Step: step})

		if stage == StageSynthesis {
			return fmt.Errorf("%w: %v", ErrNoAnswer, err)
		}
		o.logger.Warn(ctx, "stage failed", zap.String("stage", string(stage)), zap.Error(err))
		state.fail(stage, KindUpstream, "%s stage error: %v", stage, err)
		return nil
	}

	if state.Err != nil && state.Err.Stage == stage {
		span.SetAttributes(attribute.String("orchestrator.error_kind", string(state.Err.Kind)))
	}
	o.reportProgress(StageProgress{
		Stage:   stage,
		Status:  StatusCompleted,
		Message: fmt.Sprintf("Completed stage: %s", stage),
		Step:    step,
	})
	return nil
}

func safeExecute(ctx context.Context, handler StageHandler, state *ConversationState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler.Execute(ctx, state)
}

func (o *Orchestrator) reportProgress(p StageProgress) {
	if o.progressCallback != nil {
		o.progressCallback(p)
	}
}

func (e *StageError) messageOrEmpty() string {
	if e == nil {
		return ""
	}
	return e.Message
}
