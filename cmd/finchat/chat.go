package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/finchat-dev/finchat/internal/chart"
	"github.com/finchat-dev/finchat/internal/orchestrator"
	"github.com/finchat-dev/finchat/internal/session"
	"github.com/finchat-dev/finchat/internal/shaper"
	"github.com/finchat-dev/finchat/internal/store"
)

const rule = "============================================================"

// console drives one conversation over a reader and a writer.
type console struct {
	out     io.Writer
	runner  session.Runner
	verbose bool
	preview bool
	render  func(string) string
}

func newConsole(out io.Writer, runner session.Runner, verbose, plain bool) *console {
	c := &console{out: out, runner: runner, verbose: verbose, render: func(s string) string { return s }}
	if plain || verbose {
		return c
	}
	c.preview = true
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return c
	}
	c.render = func(s string) string {
		out, err := r.Render(s)
		if err != nil {
			return s
		}
		return strings.TrimSpace(out)
	}
	return c
}

// loop reads questions until quit/exit, end of input or ctx cancellation.
func (c *console) loop(ctx context.Context, in io.Reader, sess *session.Session) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)

	var scanErr error
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		scanErr = sc.Err()
	}()

	for {
		fmt.Fprint(c.out, "You: ")
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out, "\n\nInterrupted. Goodbye!")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(c.out, "\nGoodbye!")
			return scanErr
		}

		input := strings.TrimSpace(line)
		switch strings.ToLower(input) {
		case "":
			continue
		case "quit", "exit":
			fmt.Fprintln(c.out, "\nGoodbye!")
			return nil
		case "clear":
			sess.Clear()
			fmt.Fprintln(c.out, "\nConversation cleared.")
			fmt.Fprintln(c.out)
			continue
		}

		if _, err := c.turn(ctx, sess, input); err != nil {
			return err
		}
	}
}

// turn answers one question and prints the answer followed by the audit
// block (verbose) or the short hints. A failed question is printed and
// yields a nil result; only output failures are returned.
func (c *console) turn(ctx context.Context, sess *session.Session, question string) (*orchestrator.Result, error) {
	res, err := sess.Ask(ctx, c.runner, question)
	if err != nil {
		fmt.Fprintf(c.out, "\nError: %v\n\n", err)
		return nil, nil
	}

	if res.FinalAnswer != "" {
		fmt.Fprintf(c.out, "\nAssistant: %s\n\n", c.render(res.FinalAnswer))
	} else {
		fmt.Fprint(c.out, "\nAssistant: [No response generated]\n\n")
	}

	if c.verbose && orchestrator.HasAudit(res) {
		if err := orchestrator.WriteAudit(c.out, question, res); err != nil {
			return res, fmt.Errorf("failed to write audit block: %w", err)
		}
		return res, nil
	}
	if err := orchestrator.WriteHints(c.out, res); err != nil {
		return res, fmt.Errorf("failed to write hints: %w", err)
	}
	if c.preview && res.ChartSpec != nil {
		fmt.Fprintln(c.out, chart.RenderTerminal(res.ChartSpec, 0))
	}
	return res, nil
}

// exportDisclosed writes the result table as CSV into dir. Tables the
// answer did not disclose are never written; the returned path is empty
// when nothing was exported.
func exportDisclosed(dir string, res *orchestrator.Result) (string, error) {
	if dir == "" || res == nil || res.Table == nil || !res.Disclosed {
		return "", nil
	}
	path, err := shaper.ExportCSV(dir, res.Table)
	if err != nil {
		return "", fmt.Errorf("failed to export results: %w", err)
	}
	return path, nil
}

func printBanner(w io.Writer, verbose bool) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "finchat - Multi-Agent System (CLI)")
	if verbose {
		fmt.Fprintln(w, "AUDIT MODE ENABLED - SQL and results will be logged")
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Agents: Supervisor -> Data -> Visual -> Synthesis")
	fmt.Fprintln(w, "Ask questions about your transactions!")
	fmt.Fprintln(w, `Try: "Show my expenses by category" for a chart`)
	fmt.Fprintln(w, "Type 'quit' or 'exit' to end the conversation, 'clear' to start over")
	fmt.Fprintln(w, "For the web interface: finchat serve")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
}

func printSchemaStatus(w io.Writer, sc store.SchemaContext) {
	if sc.Schema == store.SchemaUnavailable {
		fmt.Fprintf(w, "Warning: Could not load schema/sample data\n\n")
		return
	}
	fmt.Fprintln(w, "✓ Schema loaded")
	fmt.Fprintf(w, "✓ Sample data loaded from %d table(s)\n\n", len(sc.Tables))
}

func newChatCmd(flags *rootFlags) *cobra.Command {
	var verbose, plain bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation. Follow-up questions keep the filters
of earlier ones ("and only the spending account?").

Examples:
  # Normal interactive mode
  finchat chat

  # Audit mode with SQL and result logging
  echo "How many transactions?" | finchat chat --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			printBanner(out, verbose)

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(out, "Loading database schema and sample data...")
			printSchemaStatus(out, a.loadSchema(ctx))

			agent, err := a.newAgent(ctx)
			if err != nil {
				return err
			}

			c := newConsole(out, agent, verbose, plain)
			return c.loop(ctx, cmd.InOrStdin(), session.New("cli", 0))
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "audit mode: print generated SQL and results in a parseable block")
	cmd.Flags().BoolVar(&plain, "plain", false, "print answers without markdown rendering")
	return cmd
}

func newAskCmd(flags *rootFlags) *cobra.Command {
	var (
		verbose   bool
		plain     bool
		exportDir string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question",
		Long: `Answer a single question and exit.

Examples:
  finchat ask "What was my largest expense in December 2025?"

  # Save the result table as CSV
  finchat ask --export-dir ./exports "Show my last 20 transactions"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			question := strings.Join(args, " ")

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			a.loadSchema(ctx)
			agent, err := a.newAgent(ctx)
			if err != nil {
				return err
			}

			c := newConsole(out, agent, verbose, plain)
			res, err := c.turn(ctx, session.New("cli", 0), question)
			if err != nil {
				return err
			}
			if res == nil {
				return errors.New("no answer")
			}
			path, err := exportDisclosed(exportDir, res)
			if err != nil {
				return err
			}
			if path != "" {
				fmt.Fprintf(out, "Exported to: %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the audit block")
	cmd.Flags().BoolVar(&plain, "plain", false, "print the answer without markdown rendering")
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "write the result table as CSV into this directory")
	return cmd
}
