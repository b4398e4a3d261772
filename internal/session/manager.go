package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/finchat-dev/finchat/internal/logging"
	"github.com/finchat-dev/finchat/internal/orchestrator"
)

const instrumentationName = "github.com/finchat-dev/finchat/internal/session"

// Config configures the session manager.
type Config struct {
	// MaxSessions bounds live sessions; the least recently used is evicted
	// when full (default: 100).
	MaxSessions int

	// IdleTimeout is how long an unused session survives Prune (default: 1h).
	IdleTimeout time.Duration

	// MaxTurns bounds the history kept per session (default: 40).
	MaxTurns int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxSessions: 100,
		IdleTimeout: time.Hour,
		MaxTurns:    40,
	}
}

// Manager owns the live sessions.
type Manager struct {
	config *Config
	runner Runner
	logger *logging.Logger

	tracer       trace.Tracer
	turnCounter  metric.Int64Counter
	failCounter  metric.Int64Counter
	sessionGauge metric.Int64UpDownCounter

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a session manager over runner.
func NewManager(cfg *Config, runner Runner, logger *logging.Logger) (*Manager, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	m := &Manager{
		config:   cfg,
		runner:   runner,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		sessions: make(map[string]*Session),
	}
	m.initMetrics()
	return m, nil
}

func (m *Manager) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	m.turnCounter, err = meter.Int64Counter(
		"finchat.session.turns_total",
		metric.WithDescription("Total number of answered questions"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create turn counter", zap.Error(err))
	}

	m.failCounter, err = meter.Int64Counter(
		"finchat.session.failures_total",
		metric.WithDescription("Total number of runs that produced no answer"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create failure counter", zap.Error(err))
	}

	m.sessionGauge, err = meter.Int64UpDownCounter(
		"finchat.session.active",
		metric.WithDescription("Number of live sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create session gauge", zap.Error(err))
	}
}

// Create starts a new session, evicting the least recently used one when
// the manager is full.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.evictOldestLocked(ctx)
	}

	s := New(uuid.New().String(), m.config.MaxTurns)
	m.sessions[s.ID] = s
	m.addActive(ctx, 1)

	m.logger.Debug(ctx, "session created", zap.String("session_id", s.ID))
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete removes the session with id.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	m.addActive(ctx, -1)
	return nil
}

// Ask answers question within session id.
func (m *Manager) Ask(ctx context.Context, id, question string) (*orchestrator.Result, error) {
	ctx, span := m.tracer.Start(ctx, "session.ask")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", id))

	s, err := m.Get(id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res, err := s.Ask(ctx, m.runner, strings.TrimSpace(question))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if m.failCounter != nil {
			m.failCounter.Add(ctx, 1)
		}
		m.logger.Warn(ctx, "turn failed", zap.String("session_id", id), zap.Error(err))
		return nil, err
	}

	if m.turnCounter != nil {
		m.turnCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("error", res.Error != nil),
			attribute.Bool("chart", res.ChartReference != ""),
		))
	}
	return res, nil
}

// Prune removes sessions idle for longer than IdleTimeout and returns how
// many were removed.
func (m *Manager) Prune(ctx context.Context, now time.Time) int {
	if m.config.IdleTimeout <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastActive()) > m.config.IdleTimeout {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.addActive(ctx, -int64(removed))
		m.logger.Info(ctx, "pruned idle sessions", zap.Int("count", removed))
	}
	return removed
}

// Run prunes idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Prune(ctx, now)
		}
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IDs returns live session IDs, most recently used first.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastActive().After(list[j].LastActive())
	})
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	return ids
}

// Close drops all sessions and rejects further use.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = make(map[string]*Session)
	return nil
}

func (m *Manager) evictOldestLocked(ctx context.Context) {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, s := range m.sessions {
		if t := s.LastActive(); oldestID == "" || t.Before(oldest) {
			oldestID, oldest = id, t
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
		m.addActive(ctx, -1)
		m.logger.Info(ctx, "evicted session", zap.String("session_id", oldestID))
	}
}

func (m *Manager) addActive(ctx context.Context, n int64) {
	if m.sessionGauge != nil {
		m.sessionGauge.Add(ctx, n)
	}
}
