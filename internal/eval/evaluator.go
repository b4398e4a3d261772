package eval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/finchat-dev/finchat/internal/logging"
	"github.com/finchat-dev/finchat/internal/orchestrator"
	"github.com/finchat-dev/finchat/internal/query"
)

var tracer = otel.Tracer("finchat/eval")

// DefaultCaseTimeout bounds one agent answer.
const DefaultCaseTimeout = 60 * time.Second

// Asker returns the agent's verbose output for one question. The output
// must contain an audit block for the case to be scored.
type Asker interface {
	Transcript(ctx context.Context, question string) (string, error)
}

// GroundTruth executes validation queries.
type GroundTruth interface {
	Execute(ctx context.Context, q string, allowRetry bool) query.Outcome
}

// AgentAsker answers through an orchestrator with an empty history, the
// same way a fresh CLI process would.
type AgentAsker struct {
	Runner interface {
		Run(ctx context.Context, history []orchestrator.Turn, question string) (*orchestrator.Result, error)
	}
}

// Transcript runs question and renders the audit block.
func (a AgentAsker) Transcript(ctx context.Context, question string) (string, error) {
	history := []orchestrator.Turn{{Role: orchestrator.RoleUser, Content: question}}
	res, err := a.Runner.Run(ctx, history, question)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := orchestrator.WriteAudit(&buf, question, res); err != nil {
		return "", err
	}
	buf.WriteString(res.FinalAnswer)
	buf.WriteString("\n")
	return buf.String(), nil
}

// CaseResult is the scored outcome of one case.
type CaseResult struct {
	ID            string                    `json:"id"`
	Category      string                    `json:"category,omitempty"`
	Question      string                    `json:"question"`
	ExpectedValue any                       `json:"expected_value,omitempty"`
	Status        string                    `json:"status"`
	RootCause     *string                   `json:"root_cause"`
	SQL           *SQLComparison            `json:"sql_comparison,omitempty"`
	Narrative     *NarrativeCheck           `json:"narrative_check,omitempty"`
	Audit         *orchestrator.AuditRecord `json:"audit_block,omitempty"`
	Error         string                    `json:"error,omitempty"`
	Output        string                    `json:"chatbot_output,omitempty"`
	Timestamp     time.Time                 `json:"timestamp"`
}

// Evaluator scores cases.
type Evaluator struct {
	asker       Asker
	truth       GroundTruth
	logger      *logging.Logger
	caseTimeout time.Duration
	now         func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCaseTimeout sets the per-case answer timeout.
func WithCaseTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.caseTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// New creates an Evaluator.
func New(asker Asker, truth GroundTruth, opts ...Option) (*Evaluator, error) {
	if asker == nil {
		return nil, errors.New("asker is required")
	}
	if truth == nil {
		return nil, errors.New("ground truth executor is required")
	}
	e := &Evaluator{
		asker:       asker,
		truth:       truth,
		logger:      logging.NewNop(),
		caseTimeout: DefaultCaseTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate scores one case. Failures of the agent become ERROR results,
// never errors.
func (e *Evaluator) Evaluate(ctx context.Context, c Case) CaseResult {
	ctx, span := tracer.Start(ctx, "eval.case")
	span.SetAttributes(attribute.String("eval.case_id", c.ID))
	defer span.End()

	out := CaseResult{
		ID:            c.ID,
		Category:      c.Category,
		Question:      c.Question,
		ExpectedValue: c.ExpectedValue,
	}

	truth := e.truth.Execute(ctx, c.SQLValidation, true)

	askCtx, cancel := context.WithTimeout(ctx, e.caseTimeout)
	transcript, err := e.asker.Transcript(askCtx, c.Question)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("chatbot timed out after %s", e.caseTimeout)
		}
		e.logger.Warn(ctx, "case errored", zap.String("case", c.ID), zap.Error(err))
		out.Status = StatusError
		out.Error = err.Error()
		out.Timestamp = e.now().UTC()
		return out
	}

	audit, err := orchestrator.ParseAudit(transcript)
	if err != nil {
		out.Status = StatusError
		out.Error = err.Error()
		out.Output = clip(transcript, 500)
		out.Timestamp = e.now().UTC()
		return out
	}
	out.Audit = audit

	var sqlCmp SQLComparison
	if !truth.OK() {
		sqlCmp = SQLComparison{Status: StatusFail, Details: "Ground truth query failed: " + truth.Failure.Message}
	} else {
		var tv any
		tFound := len(truth.Records) > 0 && len(truth.Records[0]) > 0
		if tFound {
			tv = truth.Records[0][0].Value
		}
		gv := audit.FirstValue()
		sqlCmp = CompareValues(tv, gv, tFound, len(audit.SQLResult) > 0)
	}
	out.SQL = &sqlCmp

	narrative := NarrativeCheck{
		Issues:  []string{},
		Status:  StatusSkipped,
		Details: "SQL comparison failed, skipping narrative check",
	}
	if sqlCmp.Status == StatusPass {
		narrative = CheckNarrative(audit.FinalAnswer, c, audit.FirstValue())
	}
	out.Narrative = &narrative

	switch {
	case sqlCmp.Status == StatusFail:
		out.Status = StatusFail
		out.RootCause = cause(CauseWrongSQL)
	case narrative.Status == StatusFail:
		out.Status = StatusFail
		out.RootCause = cause(CauseWrongNarrative)
	default:
		out.Status = StatusPass
	}
	out.Timestamp = e.now().UTC()

	e.logger.Info(ctx, "case evaluated",
		zap.String("case", c.ID),
		zap.String("status", out.Status),
	)
	return out
}

// Run evaluates every case in order. progress, if set, is called after
// each case. Run stops early only when ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context, s *Suite, progress func(CaseResult)) (*Report, error) {
	results := make([]CaseResult, 0, len(s.TestCases))
	for _, c := range s.TestCases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := e.Evaluate(ctx, c)
		results = append(results, r)
		if progress != nil {
			progress(r)
		}
	}
	return NewReport(s, results, e.now().UTC()), nil
}

func cause(s string) *string { return &s }

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
