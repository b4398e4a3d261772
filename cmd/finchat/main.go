// Finchat answers natural-language questions about financial transactions.
//
// A question is routed by a supervisor, turned into a read-only SQL query,
// optionally charted, and summarised. The same agent backs the interactive
// CLI, the web surface and the evaluation harness.
//
// Usage:
//
//	# Interactive chat
//	finchat chat
//
//	# Audit mode, parseable by the evaluation harness
//	echo "How many transactions?" | finchat chat --verbose
//
//	# Web interface on 127.0.0.1:7860
//	finchat serve
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "finchat",
		Short: "Ask questions about your transactions in plain language",
		Long: `finchat turns natural-language finance questions into read-only SQL,
runs them against the transactions database, and answers with a summary,
a table and, when useful, a chart.

Configuration is read from ~/.config/finchat/config.yaml and environment
variables (DATABASE_DRIVER, LLM_MODEL, AZURE_OPENAI_ENDPOINT, ...).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.config/finchat/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newChatCmd(flags),
		newAskCmd(flags),
		newServeCmd(flags),
		newSchemaCmd(flags),
		newEvalCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "finchat\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
