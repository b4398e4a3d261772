package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/finchat-dev/finchat/internal/config"
	"github.com/finchat-dev/finchat/internal/logging"
)

// ErrUpstream wraps every failure of the model call itself.
var ErrUpstream = errors.New("language model call failed")

// Completer generates text from a system and a user prompt.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, system, user string) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

var llmTracer = otel.Tracer("finchat/llm")

// New builds the configured provider wrapped with rate limiting and tracing.
func New(ctx context.Context, cfg config.LLMConfig, logger *logging.Logger) (Completer, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var (
		base Completer
		err  error
	)
	switch cfg.Provider {
	case "", "langchaingo":
		base, err = NewLangchain(cfg)
	case "eino":
		base, err = NewEino(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	limited := NewRateLimited(base, rate.Limit(cfg.RateLimit), cfg.Burst)
	return &traced{next: limited, provider: cfg.Provider, model: cfg.Model, timeout: cfg.Timeout, logger: logger}, nil
}

// RateLimited delays calls so the upstream quota is not exceeded.
type RateLimited struct {
	next    Completer
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a token bucket. A non-positive limit
// disables limiting.
func NewRateLimited(next Completer, limit rate.Limit, burst int) *RateLimited {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Complete implements Completer.
func (r *RateLimited) Complete(ctx context.Context, system, user string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limiter: %v", ErrUpstream, err)
	}
	return r.next.Complete(ctx, system, user)
}

type traced struct {
	next     Completer
	provider string
	model    string
	timeout  time.Duration
	logger   *logging.Logger
}

func (t *traced) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, span := llmTracer.Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", t.provider),
		attribute.String("llm.model", t.model),
		attribute.Int("llm.prompt_chars", len(system)+len(user)),
	)

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := t.next.Complete(ctx, system, user)
	if err != nil {
		if !errors.Is(err, ErrUpstream) {
			err = fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Error(ctx, "llm call failed", zap.String("provider", t.provider), zap.Error(err))
		return "", err
	}
	t.logger.Debug(ctx, "llm call completed",
		zap.Duration("duration", time.Since(start)), zap.Int("response_chars", len(out)))
	span.SetAttributes(attribute.Int("llm.response_chars", len(out)))
	return out, nil
}

// StripFence removes a surrounding markdown code fence and its language tag.
//
//	```sql
//	SELECT 1
//	```
//
// becomes "SELECT 1". Text without a leading fence is only trimmed.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	if i := strings.Index(body, "```"); i >= 0 {
		body = body[:i]
	}
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || isLanguageTag(tag) {
			body = body[nl+1:]
		}
	} else {
		for _, tag := range []string{"json", "sql"} {
			if strings.HasPrefix(strings.ToLower(body), tag) {
				body = body[len(tag):]
				break
			}
		}
	}
	return strings.TrimSpace(body)
}

func isLanguageTag(s string) bool {
	if strings.EqualFold(s, "select") {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
