package orchestrator

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	AuditStart = "--- AUDIT START ---"
	AuditEnd   = "--- AUDIT END ---"

	// auditResultChars bounds SQL_RESULT in the audit block.
	auditResultChars = 500

	notAvailable = "N/A"
)

// ErrNoAudit is returned by ParseAudit when the text holds no audit block.
var ErrNoAudit = errors.New("no audit block found in output")

// HasAudit reports whether r carries anything worth auditing.
func HasAudit(r *Result) bool {
	return r != nil && (r.GeneratedQuery != "" || r.Table != nil)
}

// WriteAudit writes the audit block for one run. Nothing is written when
// the run never produced a query or a result.
func WriteAudit(w io.Writer, question string, r *Result) error {
	if !HasAudit(r) {
		return nil
	}

	sqlText := r.GeneratedQuery
	if sqlText == "" {
		sqlText = notAvailable
	}

	// Failed executions audit as an empty result.
	raw := "[]"
	if r.Table != nil && len(r.RawResult) > 0 {
		raw = string(r.RawResult)
	}

	count := 1
	if parsed := gjson.Parse(raw); parsed.IsArray() {
		count = len(parsed.Array())
	}

	lines := []string{
		AuditStart,
		"QUESTION: " + question,
		"SQL_GENERATED: " + sqlText,
		"RESULT_COUNT: " + strconv.Itoa(count),
		"SQL_RESULT: " + clip(raw, auditResultChars),
		"FINAL_ANSWER: " + r.FinalAnswer,
	}
	if r.Error != nil {
		lines = append(lines, "ERROR: "+r.Error.Message)
	}
	lines = append(lines, AuditEnd, "")

	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

// WriteHints writes the short non-audit summary: the query and the chart
// kind, when present.
func WriteHints(w io.Writer, r *Result) error {
	if r == nil || (r.GeneratedQuery == "" && !r.Routing.NeedsChart) {
		return nil
	}
	var b strings.Builder
	if r.GeneratedQuery != "" {
		fmt.Fprintf(&b, "[SQL]: %s\n", r.GeneratedQuery)
	}
	if r.Routing.NeedsChart {
		fmt.Fprintf(&b, "[Viz]: %s chart\n", r.Routing.ChartKind)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// AuditRecord is a parsed audit block.
type AuditRecord struct {
	Question     string `json:"question"`
	SQLGenerated string `json:"sql_generated"`
	ResultCount  int    `json:"result_count"`
	SQLResultRaw string `json:"sql_result_raw"`
	// SQLResult holds the decoded rows when SQL_RESULT is complete JSON.
	SQLResult   []map[string]any `json:"sql_result"`
	FinalAnswer string           `json:"final_answer"`
	Error       string           `json:"error,omitempty"`
}

// ParseAudit extracts the first audit block from text.
func ParseAudit(text string) (*AuditRecord, error) {
	start := strings.Index(text, AuditStart)
	if start < 0 {
		return nil, ErrNoAudit
	}
	body := text[start+len(AuditStart):]
	end := strings.Index(body, AuditEnd)
	if end < 0 {
		return nil, ErrNoAudit
	}
	body = body[:end]

	rec := &AuditRecord{}
	var answer []string
	inAnswer := false

	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "QUESTION: "):
			rec.Question = strings.TrimPrefix(line, "QUESTION: ")
		case strings.HasPrefix(line, "SQL_GENERATED: "):
			rec.SQLGenerated = strings.TrimPrefix(line, "SQL_GENERATED: ")
		case strings.HasPrefix(line, "RESULT_COUNT: "):
			rec.ResultCount, _ = strconv.Atoi(strings.TrimPrefix(line, "RESULT_COUNT: "))
		case strings.HasPrefix(line, "SQL_RESULT: "):
			rec.SQLResultRaw = strings.TrimPrefix(line, "SQL_RESULT: ")
		case strings.HasPrefix(line, "FINAL_ANSWER: "):
			inAnswer = true
			answer = append(answer, strings.TrimPrefix(line, "FINAL_ANSWER: "))
		case strings.HasPrefix(line, "ERROR: "):
			inAnswer = false
			rec.Error = strings.TrimPrefix(line, "ERROR: ")
		case inAnswer:
			answer = append(answer, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit block: %w", err)
	}

	rec.FinalAnswer = strings.TrimSpace(strings.Join(answer, "\n"))
	if rec.SQLGenerated == notAvailable {
		rec.SQLGenerated = ""
	}
	rec.SQLResult = decodeRows(rec.SQLResultRaw)
	return rec, nil
}

func decodeRows(raw string) []map[string]any {
	if raw == "" || !gjson.Valid(raw) {
		return nil
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsArray() {
		return nil
	}
	rows := make([]map[string]any, 0)
	for _, item := range parsed.Array() {
		obj, ok := item.Value().(map[string]any)
		if !ok {
			return nil
		}
		rows = append(rows, obj)
	}
	return rows
}

// FirstValue returns the first column of the first row, or nil. Column
// order is read from the raw text since decoded maps do not keep it.
func (a *AuditRecord) FirstValue() any {
	if len(a.SQLResult) == 0 {
		return nil
	}
	var val any
	gjson.Get(a.SQLResultRaw, "0").ForEach(func(_, v gjson.Result) bool {
		val = v.Value()
		return false
	})
	return val
}
