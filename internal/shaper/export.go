package shaper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// ErrNothingToExport is returned for a table with neither columns nor rows.
var ErrNothingToExport = errors.New("nothing to export")

const xlsxSheet = "Results"

// WriteCSV writes the header row followed by every row, in order.
func WriteCSV(w io.Writer, t *Table) error {
	if t == nil || (len(t.Columns) == 0 && len(t.Rows) == 0) {
		return ErrNothingToExport
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = FormatCell(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes t to a new export_<id>_*.csv file in dir and returns its path.
func ExportCSV(dir string, t *Table) (string, error) {
	if t == nil || (len(t.Columns) == 0 && len(t.Rows) == 0) {
		return "", ErrNothingToExport
	}
	prefix := "export_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + "_"
	f, err := os.CreateTemp(dir, prefix+"*.csv")
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if err := WriteCSV(f, t); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close export file: %w", err)
	}
	return f.Name(), nil
}

// WriteXLSX writes t as a single-sheet workbook with a bold, frozen header.
func WriteXLSX(w io.Writer, t *Table) error {
	if t == nil || len(t.Columns) == 0 {
		return ErrNothingToExport
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(t.Columns), 1)
	if err := f.SetCellStyle(xlsxSheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	if err := f.SetPanes(xlsxSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	for i, row := range t.Rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := make([]any, len(t.Columns))
		for j := range values {
			if j < len(row) {
				values[j] = xlsxValue(row[j])
			}
		}
		if err := f.SetSheetRow(xlsxSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	return f.Write(w)
}

// FormatCell renders a cell value as text. nil becomes the empty string.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func xlsxValue(v any) any {
	switch v.(type) {
	case nil:
		return ""
	case float64, int64, bool, string:
		return v
	default:
		return FormatCell(v)
	}
}
