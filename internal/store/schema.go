package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/finchat-dev/finchat/internal/logging"
)

// SchemaUnavailable replaces the schema text when introspection fails.
const SchemaUnavailable = "Schema information unavailable"

// SchemaContext is the static prompt context loaded once at startup and
// shared read-only by every orchestration run.
type SchemaContext struct {
	Schema  string
	Samples string
	Tables  []string
}

// LoadSchemaContext introspects the store. A failure to list or describe
// tables degrades to SchemaUnavailable with no samples instead of failing.
func LoadSchemaContext(ctx context.Context, in Introspector, sampleLimit int, logger *logging.Logger) SchemaContext {
	if logger == nil {
		logger = logging.NewNop()
	}

	cols, err := in.DescribeSchema(ctx)
	if err != nil {
		logger.Warn(ctx, "could not load schema", zap.Error(err))
		return SchemaContext{Schema: SchemaUnavailable}
	}
	tables, err := in.ListTables(ctx)
	if err != nil {
		logger.Warn(ctx, "could not list tables", zap.Error(err))
		return SchemaContext{Schema: SchemaUnavailable}
	}

	samples := make([]string, 0, len(tables))
	for _, table := range tables {
		samples = append(samples, formatSample(ctx, in, table, sampleLimit, logger))
	}

	logger.Info(ctx, "schema context loaded",
		zap.Int("tables", len(tables)), zap.Int("columns", len(cols)))

	return SchemaContext{
		Schema:  FormatSchema(cols),
		Samples: strings.Join(samples, "\n"),
		Tables:  tables,
	}
}

// FormatSchema renders columns as
//
//	Table: Transactions
//	  - Amount: decimal (NOT NULL)
func FormatSchema(cols []Column) string {
	if len(cols) == 0 {
		return "No tables found"
	}
	var lines []string
	current := ""
	for _, c := range cols {
		if c.Table != current {
			current = c.Table
			lines = append(lines, "\nTable: "+current)
		}
		nullable := "NOT NULL"
		if c.Nullable {
			nullable = "NULL"
		}
		lines = append(lines, fmt.Sprintf("  - %s: %s (%s)", c.Name, c.DataType, nullable))
	}
	return strings.Join(lines, "\n")
}

func formatSample(ctx context.Context, in Introspector, table string, limit int, logger *logging.Logger) string {
	_, records, err := in.SampleRows(ctx, table, limit)
	if err != nil {
		logger.Warn(ctx, "could not sample table", zap.String("table", table), zap.Error(err))
		return fmt.Sprintf("Could not retrieve sample data from %s", table)
	}
	if len(records) == 0 {
		return fmt.Sprintf("Table %s is empty", table)
	}

	lines := []string{fmt.Sprintf("\nSample data from %s:", table)}
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			logger.Warn(ctx, "could not encode sample row", zap.String("table", table), zap.Error(err))
			continue
		}
		lines = append(lines, "  "+string(data))
	}
	return strings.Join(lines, "\n")
}

// PromptText joins schema and samples the way the query prompt expects them.
func (s SchemaContext) PromptText() string {
	if s.Samples == "" {
		return s.Schema
	}
	return s.Schema + "\n" + s.Samples
}
