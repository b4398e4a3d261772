package shaper

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/finchat-dev/finchat/internal/query"
)

// MaxTableRows caps the rows kept in a Table.
const MaxTableRows = 50

// ErrShapeMismatch marks result rows that cannot form a uniform table.
var ErrShapeMismatch = errors.New("malformed row shape")

// Kind discriminates a Result.
type Kind string

const (
	KindEmpty Kind = "empty"
	KindTable Kind = "table"
	KindError Kind = "error"
)

// Table is a rectangular result. Every row has len(Columns) entries in
// column order; TotalRowCount is the count before capping.
type Table struct {
	Columns       []string `json:"columns"`
	Rows          [][]any  `json:"rows"`
	TotalRowCount int      `json:"total_row_count"`
}

// Truncated reports whether rows were dropped by the cap.
func (t *Table) Truncated() bool {
	return t.TotalRowCount > len(t.Rows)
}

// Result is the shaped form of an execution outcome.
type Result struct {
	Kind    Kind
	Table   *Table
	Message string
	Err     error
}

func errorResult(err error, format string, args ...any) Result {
	return Result{Kind: KindError, Message: fmt.Sprintf(format, args...), Err: err}
}

// Shape converts an executor outcome.
func Shape(out query.Outcome) Result {
	if out.Failure != nil {
		return Result{Kind: KindError, Message: out.Failure.Message, Err: out.Failure}
	}
	return ShapeRecords(out.Records)
}

// ShapeRecords builds a table whose columns come from the first record.
// Later records are projected onto those columns: missing names yield nil,
// extra names are dropped.
func ShapeRecords(records []query.Record) Result {
	if len(records) == 0 {
		return Result{Kind: KindEmpty}
	}

	columns := records[0].Names()
	if len(columns) == 0 {
		return errorResult(ErrShapeMismatch, "Unexpected row format: first row has no columns")
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c] {
			return errorResult(ErrShapeMismatch, "Unexpected row format: duplicate column %q", c)
		}
		seen[c] = true
	}

	n := len(records)
	if n > MaxTableRows {
		n = MaxTableRows
	}
	rows := make([][]any, n)
	for i, rec := range records[:n] {
		row := make([]any, len(columns))
		for j, c := range columns {
			row[j], _ = rec.Get(c)
		}
		rows[i] = row
	}

	return Result{
		Kind: KindTable,
		Table: &Table{
			Columns:       columns,
			Rows:          rows,
			TotalRowCount: len(records),
		},
	}
}

// ShapeJSON shapes a raw JSON payload as produced by query.Outcome.JSON: an
// array of objects, or an {"error": ...} object. A lone object without an
// error key is treated as a single row. Object key order is preserved.
func ShapeJSON(raw []byte) Result {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Result{Kind: KindEmpty}
	}
	if !gjson.ValidBytes(raw) {
		return errorResult(nil, "Failed to parse SQL results: invalid JSON")
	}

	data := gjson.ParseBytes(raw)
	if data.IsObject() {
		if e := data.Get("error"); e.Exists() {
			return errorResult(nil, "SQL error: %s", e.String())
		}
		rec, _ := toRecord(data)
		return ShapeRecords([]query.Record{rec})
	}
	if !data.IsArray() {
		return errorResult(nil, "Unexpected SQL result format: expected list, got %s", typeName(data))
	}

	elems := data.Array()
	if len(elems) == 0 {
		return Result{Kind: KindEmpty}
	}
	records := make([]query.Record, 0, len(elems))
	for i, el := range elems {
		rec, ok := toRecord(el)
		if !ok {
			if i == 0 {
				return errorResult(ErrShapeMismatch, "Unexpected row format: expected object, got %s", typeName(el))
			}
			return errorResult(ErrShapeMismatch, "Unexpected row format: row %d is %s", i+1, typeName(el))
		}
		records = append(records, rec)
	}
	return ShapeRecords(records)
}

func toRecord(obj gjson.Result) (query.Record, bool) {
	if !obj.IsObject() {
		return nil, false
	}
	var rec query.Record
	obj.ForEach(func(key, value gjson.Result) bool {
		rec = append(rec, query.Field{Name: key.String(), Value: jsonValue(value)})
		return true
	})
	return rec, true
}

// jsonValue keeps integral numbers as int64 so they print without a
// fractional part.
func jsonValue(v gjson.Result) any {
	if v.Type == gjson.Number && !strings.ContainsAny(v.Raw, ".eE") {
		if n, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return n
		}
	}
	return v.Value()
}

func typeName(v gjson.Result) string {
	switch {
	case v.IsArray():
		return "list"
	case v.IsObject():
		return "object"
	}
	switch v.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "bool"
	default:
		return "null"
	}
}
