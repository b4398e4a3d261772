package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/finchat-dev/finchat/internal/query"
)

// Column describes one table column.
type Column struct {
	Table    string
	Name     string
	DataType string
	Nullable bool
}

// Introspector exposes schema and sample-data discovery.
type Introspector interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeSchema(ctx context.Context) ([]Column, error)
	SampleRows(ctx context.Context, table string, limit int) ([]string, []query.Record, error)
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ListTables returns the base tables in the default schema, sorted by name.
func (s *SQLStore) ListTables(ctx context.Context) ([]string, error) {
	var q string
	switch s.config.Driver {
	case DriverSQLServer:
		q = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = 'dbo'
ORDER BY TABLE_NAME`
	case DriverMySQL:
		q = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = DATABASE()
ORDER BY TABLE_NAME`
	default:
		q = `SELECT name FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`
	}

	var tables []string
	err := s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			tables = append(tables, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

// DescribeSchema returns every column of every base table, grouped by table
// in name order and by ordinal position within a table.
func (s *SQLStore) DescribeSchema(ctx context.Context) ([]Column, error) {
	if s.config.Driver == DriverSQLite {
		return s.describeSQLite(ctx)
	}

	schemaFilter := "TABLE_SCHEMA = 'dbo'"
	if s.config.Driver == DriverMySQL {
		schemaFilter = "TABLE_SCHEMA = DATABASE()"
	}
	q := `SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, IS_NULLABLE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE ` + schemaFilter + `
ORDER BY TABLE_NAME, ORDINAL_POSITION`

	var cols []Column
	err := s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c Column
			var nullable string
			if err := rows.Scan(&c.Table, &c.Name, &c.DataType, &nullable); err != nil {
				return err
			}
			c.Nullable = strings.EqualFold(nullable, "YES")
			cols = append(cols, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe schema: %w", err)
	}
	return cols, nil
}

func (s *SQLStore) describeSQLite(ctx context.Context) ([]Column, error) {
	tables, err := s.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	var cols []Column
	err = s.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		for _, table := range tables {
			rows, err := conn.QueryContext(ctx, "SELECT name, type, \"notnull\" FROM pragma_table_info(?) ORDER BY cid", table)
			if err != nil {
				return err
			}
			for rows.Next() {
				c := Column{Table: table}
				var notNull int64
				if err := rows.Scan(&c.Name, &c.DataType, &notNull); err != nil {
					rows.Close()
					return err
				}
				c.DataType = strings.ToLower(c.DataType)
				c.Nullable = notNull == 0
				cols = append(cols, c)
			}
			if err := rows.Close(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe schema: %w", err)
	}
	return cols, nil
}

// SampleRows returns up to limit rows from table.
func (s *SQLStore) SampleRows(ctx context.Context, table string, limit int) ([]string, []query.Record, error) {
	if !identPattern.MatchString(table) {
		return nil, nil, fmt.Errorf("invalid table name %q", table)
	}
	if limit < 1 {
		limit = 1
	}

	var q string
	switch s.config.Driver {
	case DriverSQLServer:
		q = fmt.Sprintf("SELECT TOP %d * FROM [%s]", limit, table)
	case DriverMySQL:
		q = fmt.Sprintf("SELECT * FROM `%s` LIMIT %d", table, limit)
	default:
		q = fmt.Sprintf(`SELECT * FROM "%s" LIMIT %d`, table, limit)
	}

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
		return nil, nil, fmt.Errorf("failed to sample %s: %w", table, err)
	}
	return columns, records, nil
}
