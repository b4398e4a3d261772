package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/finchat-dev/finchat/internal/eval"
)

func newEvalCmd(flags *rootFlags) *cobra.Command {
	var (
		casesPath  string
		reportsDir string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the smoke evaluation suite",
		Long: `Run every test case through a fresh conversation, compare the first value
of the agent's result with the case's validation query (within 0.50), check
the narrative, and write smoke_suite_<timestamp>.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			suite, err := eval.LoadSuite(casesPath)
			if err != nil {
				return err
			}

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

			ev, err := eval.New(eval.AgentAsker{Runner: agent}, a.executor,
				eval.WithLogger(a.logger.Named("eval")),
				eval.WithCaseTimeout(timeout),
			)
			if err != nil {
				return err
			}

			printSuiteHeader(out, suite)
			report, err := ev.Run(ctx, suite, func(r eval.CaseResult) { printCaseResult(out, r) })
			if err != nil {
				return err
			}
			path, err := report.Write(reportsDir)
			if err != nil {
				return err
			}
			printSummary(out, report, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&casesPath, "cases", "eval/test_cases.json", "test cases file")
	cmd.Flags().StringVar(&reportsDir, "reports", "eval/reports", "directory for report files")
	cmd.Flags().DurationVar(&timeout, "timeout", eval.DefaultCaseTimeout, "per-question timeout")
	return cmd
}

func printSuiteHeader(w io.Writer, s *eval.Suite) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "finchat Smoke Suite Evaluation")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "\nTest Suite: %s\n", s.Name)
	fmt.Fprintf(w, "as_of_date: %s\n", s.AsOfDate)
	fmt.Fprintf(w, "Total test cases: %d\n", len(s.TestCases))
	fmt.Fprintln(w, "\nRunning tests...")
}

func printCaseResult(w io.Writer, r eval.CaseResult) {
	mark := "✗"
	if r.Status == eval.StatusPass {
		mark = "✓"
	}
	fmt.Fprintf(w, "  %s %s: %s", mark, r.ID, r.Status)
	if r.RootCause != nil {
		fmt.Fprintf(w, " (%s)", *r.RootCause)
	}
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, r *eval.Report, path string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "EVALUATION COMPLETE")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Total tests: %d\n", r.Summary.Total)
	fmt.Fprintf(w, "Passed: %d (%s)\n", r.Summary.Passed, r.Summary.PassRate)
	fmt.Fprintf(w, "Failed: %d\n", r.Summary.Failed)
	fmt.Fprintf(w, "   - %s: %d\n", eval.CauseWrongSQL, r.FailureBreakdown[eval.CauseWrongSQL])
	fmt.Fprintf(w, "   - %s: %d\n", eval.CauseWrongNarrative, r.FailureBreakdown[eval.CauseWrongNarrative])
	fmt.Fprintf(w, "Errors: %d\n", r.Summary.Errors)
	fmt.Fprintf(w, "\nReport saved: %s\n", path)
	fmt.Fprintln(w, rule)
}
