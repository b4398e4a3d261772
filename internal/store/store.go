package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/microsoft/go-mssqldb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/finchat-dev/finchat/internal/logging"
	"github.com/finchat-dev/finchat/internal/query"
)

var storeTracer = otel.Tracer("finchat/store")

// Supported driver names.
const (
	DriverSQLServer = "sqlserver"
	DriverMySQL     = "mysql"
	DriverSQLite    = "sqlite"
)

var (
	// ErrInvalidConfig is returned when Config fails validation.
	ErrInvalidConfig = errors.New("invalid store config")
	// ErrStatementTimeout is returned when an attempt exceeds the statement
	// timeout. Its text contains "timeout" so the executor retries it.
	ErrStatementTimeout = errors.New("statement timeout expired")
)

// Store is the full data-store capability: query execution plus introspection.
type Store interface {
	query.Runner
	Introspector
}

// Config holds the store connection settings.
type Config struct {
	// Driver is one of sqlserver, mysql or sqlite.
	Driver string
	// DSN is the driver-specific data source name.
	DSN string
	// StatementTimeout bounds each attempt.
	// Default: 30s
	StatementTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.StatementTimeout == 0 {
		c.StatementTimeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLServer, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("%w: dsn is required", ErrInvalidConfig)
	}
	if c.StatementTimeout <= 0 {
		return fmt.Errorf("%w: statement timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	config Config
	logger *logging.Logger
}

// New creates a store. No connection is opened until the first call.
func New(cfg Config, logger *logging.Logger) (*SQLStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SQLStore{config: cfg, logger: logger}, nil
}

// Driver returns the configured driver name.
func (s *SQLStore) Driver() string {
	return s.config.Driver
}

// Run executes q on a fresh connection with the statement timeout applied and
// returns the column names and normalized records in result order.
func (s *SQLStore) Run(ctx context.Context, q string) ([]string, []query.Record, error) {
	ctx, span := storeTracer.Start(ctx, "store.run")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", s.config.Driver))

	var (
		columns []string
		records []query.Record
	)
	err := s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var err error
		columns, records, err = scanQuery(ctx, conn, q)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int("db.rows", len(records)))
	return columns, records, nil
}

// withConn opens a database handle, pins one connection, applies the
// timeout prelude and runs fn. Everything is closed before it returns.
func (s *SQLStore) withConn(ctx context.Context, fn func(context.Context, *sql.Conn) error) error {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, s.config.StatementTimeout)
	defer cancel()

	db, err := sql.Open(s.config.Driver, s.config.DSN)
	if err != nil {
		return fmt.Errorf("failed to open %s connection: %w", s.config.Driver, err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			s.logger.Debug(parent, "failed to close database handle", zap.Error(cerr))
		}
	}()
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		return s.timeoutOr(parent, ctx, fmt.Errorf("connection failed: %w", err))
	}
	defer conn.Close()

	if prelude := timeoutPrelude(s.config.Driver, s.config.StatementTimeout); prelude != "" {
		if _, err := conn.ExecContext(ctx, prelude); err != nil {
			return s.timeoutOr(parent, ctx, fmt.Errorf("failed to apply statement timeout: %w", err))
		}
	}

	if err := fn(ctx, conn); err != nil {
		return s.timeoutOr(parent, ctx, err)
	}
	return nil
}

// timeoutOr replaces err with ErrStatementTimeout when the attempt's own
// deadline fired while the caller's context is still live.
func (s *SQLStore) timeoutOr(parent, attempt context.Context, err error) error {
	if parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrStatementTimeout, s.config.StatementTimeout)
	}
	return err
}

// timeoutPrelude returns the per-session statement that bounds lock waits or
// execution time. SQLite relies on the context deadline alone.
func timeoutPrelude(driver string, timeout time.Duration) string {
	ms := timeout.Milliseconds()
	switch driver {
	case DriverSQLServer:
		return fmt.Sprintf("SET LOCK_TIMEOUT %d", ms)
	case DriverMySQL:
		return fmt.Sprintf("SET SESSION MAX_EXECUTION_TIME = %d", ms)
	default:
		return ""
	}
}

func scanQuery(ctx context.Context, conn *sql.Conn, q string, args ...any) ([]string, []query.Record, error) {
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read column metadata: %w", err)
	}
	columns := make([]string, len(types))
	for i, t := range types {
		columns[i] = t.Name()
	}

	records := []query.Record{}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec := make(query.Record, len(columns))
		for i, name := range columns {
			rec[i] = query.Field{Name: name, Value: normalizeValue(values[i], types[i].DatabaseTypeName())}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, records, nil
}
