package orchestrator

import (
	"fmt"
	"strings"

	"github.com/finchat-dev/finchat/internal/chart"
)

const (
	// contextTurns is how many prior turns feed the query prompt.
	contextTurns = 6

	// contextTurnChars bounds each prior turn in the query prompt.
	contextTurnChars = 300

	// resultPromptChars bounds the raw result handed to the synthesis prompt.
	resultPromptChars = 8000
)

const supervisorPrompt = `You are a routing supervisor for a finance assistant.
Analyze the user's question and decide what's needed.

Respond with a JSON object (no markdown, just raw JSON):
{
    "needs_sql": true/false,
    "needs_viz": true/false,
    "chart_type": "bar" | "line" | "pie" | null,
    "reasoning": "brief explanation"
}

Guidelines:
- needs_sql: true for any data question (amounts, counts, lists, totals)
- needs_viz: true ONLY for aggregated data with trends/comparisons/distributions
- needs_viz: FALSE for listing individual transactions or showing raw data
- chart_type:
  - "bar" for category comparisons (by merchant, by type)
  - "line" for time series (by month, by week, trends)
  - "pie" for proportions (percentage breakdown)
  - null if no visualization needed

Examples:
- "What's my total spend?" -> {"needs_sql": true, "needs_viz": false, "chart_type": null}
- "Show expenses by category" -> {"needs_sql": true, "needs_viz": true, "chart_type": "bar"}
- "How has spending changed over time?" -> {"needs_sql": true, "needs_viz": true, "chart_type": "line"}
- "Show me all transactions" -> {"needs_sql": true, "needs_viz": false, "chart_type": null}
- "List transactions from December" -> {"needs_sql": true, "needs_viz": false, "chart_type": null}
`

const queryRules = `Rules:
- Only SELECT queries allowed
- Use proper %s syntax
- Keep queries efficient

Date handling (CRITICAL):
- When user mentions a month AND year (e.g., "December 2025"), ALWAYS filter by BOTH:
  WHERE MONTH(TransactionDate) = 12 AND YEAR(TransactionDate) = 2025
- NEVER filter by month alone without year - always include YEAR() in date filters
- For relative dates like "last month", "this year", use %s for calculations

Important aggregation patterns:
- For "largest expense": Use MIN(Amount) WHERE Amount < 0 (expenses are negative, most negative = largest)
- For "smallest expense": Use MAX(Amount) WHERE Amount < 0 (closest to zero)
- For "largest income": Use MAX(Amount) WHERE Amount > 0
- For "smallest income": Use MIN(Amount) WHERE Amount > 0
- Use aggregates (MIN/MAX/SUM/AVG) for single-value questions
- Use %s only when you need multiple columns (like transaction details)

AccountID mapping (user terms to database values):
- "spending account" or "spending" -> WHERE AccountID = 'spending'
- "invoices account" or "invoices" -> WHERE AccountID = 'invoices'
- If user doesn't specify account, query ALL accounts (no WHERE AccountID filter)

Example: "What was my largest expense?" -> SELECT MIN(Amount) as largest_expense FROM Transactions WHERE Amount < 0
Example: "Show spending account transactions" -> SELECT * FROM Transactions WHERE AccountID = 'spending'
Example: "December 2025 transactions" -> SELECT * FROM Transactions WHERE MONTH(TransactionDate) = 12 AND YEAR(TransactionDate) = 2025
`

const carryoverRules = `CONTEXT CARRYOVER RULES:
1. If user previously asked about a specific time period (e.g., "December 2025"), ALWAYS include that date filter in the new query
2. If user says "these transactions", "those", "the same ones" - they mean the SAME data from the previous query
3. When user adds a new filter (like "only spending account"), ADD it to existing filters, don't replace them
4. Example: Previous query was for "December 2025", user now says "show only spending account" -> keep BOTH the December 2025 AND spending account filters`

const summaryInstructions = `Provide a clear, natural language summary of the results.
- Be concise but informative
- Highlight key numbers or insights
- Format numbers nicely (use commas for thousands)
- Always use 'CZK' as the currency when presenting monetary amounts (Czech Koruna), never '$'. Example: '4,604.81 CZK'

IMPORTANT: Only mention charts or visualizations if explicitly stated in the context above. If no chart path is mentioned in context, DO NOT mention any visualization, chart, or graph in your response.`

// dialect holds the per-driver wording of the query prompt.
type dialect struct {
	name  string
	now   string
	limit string
}

var dialects = map[string]dialect{
	"sqlserver": {name: "SQL Server", now: "GETDATE()", limit: "TOP 1 with ORDER BY"},
	"mysql":     {name: "MySQL", now: "CURDATE()", limit: "ORDER BY with LIMIT 1"},
	"sqlite":    {name: "SQLite", now: "date('now')", limit: "ORDER BY with LIMIT 1"},
}

func dialectFor(driver string) dialect {
	if d, ok := dialects[driver]; ok {
		return d
	}
	return dialects["sqlserver"]
}

func supervisorUserMessage(question string) string {
	return "User question: " + question
}

// queryPrompt builds the system prompt of the Data stage.
func queryPrompt(schema, driver string, routing RoutingDecision, history []Turn) string {
	d := dialectFor(driver)

	var b strings.Builder
	b.WriteString("You are a SQL expert for a finance database.\n\n")
	b.WriteString("Database Schema:\n")
	b.WriteString(schema)
	b.WriteString("\n\nGenerate a SQL query to answer the user's question.\n")
	b.WriteString("Return ONLY the SQL query, nothing else.\n")
	if routing.NeedsChart {
		b.WriteString(chartHint(routing.ChartKind))
	}
	b.WriteString(fmt.Sprintf(queryRules, d.name, d.now, d.limit))
	b.WriteString(conversationContext(history))
	return b.String()
}

func chartHint(kind chart.Kind) string {
	return fmt.Sprintf(`
IMPORTANT: The results will be used for a %s chart.
- For bar/pie charts: Include a category column and a value column
- For line charts: Include a date/time column and a value column
- Keep the result set reasonable (max 10-15 rows for readability)
- Use GROUP BY and ORDER BY appropriately
`, kind)
}

// conversationContext renders up to contextTurns turns preceding the current
// question, each clipped to contextTurnChars runes.
func conversationContext(history []Turn) string {
	if len(history) < 2 {
		return ""
	}
	prior := history[:len(history)-1]
	if len(prior) > contextTurns {
		prior = prior[len(prior)-contextTurns:]
	}

	lines := make([]string, 0, len(prior))
	for _, t := range prior {
		role := "User"
		if t.Role == RoleAssistant {
			role = "Assistant"
		}
		lines = append(lines, role+": "+clip(t.Content, contextTurnChars))
	}

	return "\n=== CONVERSATION CONTEXT (CRITICAL - READ CAREFULLY) ===\n" +
		strings.Join(lines, "\n") + "\n\n" +
		carryoverRules + "\n=== END CONTEXT ===\n"
}

func queryUserMessage(question string) string {
	return "Generate SQL for: " + question
}

func errorPrompt(question, message string) string {
	return fmt.Sprintf("The user asked: %q\nAn error occurred: %s\n\nExplain the error briefly and suggest what might help.",
		question, message)
}

const errorUserMessage = "Explain the error to the user."

// summaryPrompt builds the system prompt for the success path.
func summaryPrompt(s *ConversationState) string {
	parts := []string{fmt.Sprintf("User asked: %q", s.Question)}
	if s.GeneratedQuery != "" {
		parts = append(parts, "SQL query executed: "+s.GeneratedQuery)
	}
	if len(s.RawResult) > 0 {
		parts = append(parts, "Query results: "+clip(string(s.RawResult), resultPromptChars))
		if s.Table != nil && s.Table.TotalRowCount == 0 {
			parts = append(parts, "The query matched no records.")
		}
	}
	if s.ChartPath != "" {
		parts = append(parts, "A chart has been generated and saved to: "+s.ChartPath)
	}

	return "You are a helpful finance assistant presenting results.\n\n" +
		strings.Join(parts, "\n") + "\n\n" + summaryInstructions
}

const summaryUserMessage = "Summarize the results for the user."

// clip truncates s to n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
