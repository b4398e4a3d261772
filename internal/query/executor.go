package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/finchat-dev/finchat/internal/logging"
	"github.com/finchat-dev/finchat/internal/secrets"
)

const (
	// DefaultMaxAttempts bounds executions of one query, first try included.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the wait before the first retry; it doubles after each.
	DefaultBaseDelay = time.Second
)

// Runner executes a single read-only query on a fresh connection and returns
// the column names and normalized records. Implementations enforce the
// per-attempt statement timeout.
type Runner interface {
	Run(ctx context.Context, query string) ([]string, []Record, error)
}

// RetryFunc observes a failed attempt before the executor waits delay.
type RetryFunc func(attempt int, err error, delay time.Duration)

// Executor runs gated queries with bounded retry.
type Executor struct {
	runner      Runner
	maxAttempts int
	baseDelay   time.Duration
	logger      *logging.Logger
	tracer      trace.Tracer
	onRetry     RetryFunc
	scrubber    secrets.Scrubber
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxAttempts sets the attempt cap (values below 1 are ignored).
func WithMaxAttempts(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the first backoff delay.
func WithBaseDelay(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d >= 0 {
			e.baseDelay = d
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(l *logging.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithTracer sets the tracer used for per-attempt spans.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// WithScrubber sets the scrubber applied to failure messages and logged
// driver errors.
func WithScrubber(s secrets.Scrubber) ExecutorOption {
	return func(e *Executor) {
		if s != nil {
			e.scrubber = s
		}
	}
}

// OnRetry registers a hook called before each backoff wait.
func OnRetry(fn RetryFunc) ExecutorOption {
	return func(e *Executor) { e.onRetry = fn }
}

// NewExecutor creates an executor over runner.
func NewExecutor(runner Runner, opts ...ExecutorOption) *Executor {
	e := &Executor{
		runner:      runner,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      logging.NewNop(),
		tracer:      otel.Tracer("finchat/query"),
		scrubber:    secrets.MustNew(nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates and runs query. A gate rejection returns a Failure with
// zero attempts and never reaches the runner. Transient failures are retried
// with exponential backoff when allowRetry is set; anything else returns at
// once.
func (e *Executor) Execute(ctx context.Context, query string, allowRetry bool) Outcome {
	ctx, span := e.tracer.Start(ctx, "query.execute",
		trace.WithAttributes(attribute.Bool("query.allow_retry", allowRetry)))
	defer span.End()

	out := e.execute(ctx, query, allowRetry)
	if out.Failure != nil {
		// Drivers echo DSNs in connection errors.
		out.Failure.Message = e.scrub(out.Failure.Message)
	}

	span.SetAttributes(attribute.Int("query.attempts", out.Attempts))
	if out.Failure != nil {
		span.SetAttributes(attribute.String("query.failure_kind", string(out.Failure.Kind)))
		span.SetStatus(codes.Error, out.Failure.Message)
		failuresTotal.WithLabelValues(string(out.Failure.Kind)).Inc()
	} else {
		span.SetAttributes(attribute.Int("query.rows", len(out.Records)))
		rowsReturned.Observe(float64(len(out.Records)))
	}
	return out
}

func (e *Executor) execute(ctx context.Context, query string, allowRetry bool) Outcome {
	out := Outcome{Query: query}

	if err := Validate(query); err != nil {
		e.logger.Warn(ctx, "query rejected by safety gate", zap.Error(err))
		out.Failure = newFailure(query, 0, err)
		return out
	}

	limit := 1
	if allowRetry {
		limit = e.maxAttempts
	}

	type result struct {
		columns []string
		records []Record
	}

	attempts := 0
	operation := func() (result, error) {
		// The gate runs before every attempt, retries included.
		if err := Validate(query); err != nil {
			return result{}, backoff.Permanent(err)
		}
		attempts++
		attemptsTotal.Inc()

		e.logger.Info(ctx, "executing query",
			zap.Int("attempt", attempts), zap.Int("max_attempts", limit))

		start := time.Now()
		cols, recs, err := e.runner.Run(ctx, query)
		attemptDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			e.logger.Error(ctx, "query attempt failed",
				zap.Int("attempt", attempts), zap.String("error", e.scrub(err.Error())))
			if !IsTransient(err) {
				return result{}, backoff.Permanent(err)
			}
			return result{}, err
		}
		return result{columns: cols, records: recs}, nil
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     e.baseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         e.baseDelay << uint(limit),
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(limit)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			e.logger.Info(ctx, "retrying transient failure", zap.Duration("delay", delay))
			if e.onRetry != nil {
				e.onRetry(attempts, err, delay)
			}
		}),
	)
	out.Attempts = attempts
	if err != nil {
		f := newFailure(query, attempts, err)
		if f.Kind == KindTransient && allowRetry && attempts >= limit {
			f.Kind = KindPermanent
			f.Message = fmt.Sprintf("%s (gave up after %d attempts)", err.Error(), attempts)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			f.Kind = KindPermanent
		}
		out.Failure = f
		return out
	}

	e.logger.Info(ctx, "query executed", zap.Int("rows", len(res.records)), zap.Int("attempts", attempts))
	out.Columns = res.columns
	out.Records = res.records
	return out
}

func (e *Executor) scrub(msg string) string {
	return e.scrubber.Scrub(msg).Scrubbed
}
