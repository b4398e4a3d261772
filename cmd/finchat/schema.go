package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/finchat-dev/finchat/internal/store"
)

func newSchemaCmd(flags *rootFlags) *cobra.Command {
	var noSamples bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema context given to the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			sc := a.loadSchema(ctx)
			if sc.Schema == store.SchemaUnavailable {
				return fmt.Errorf("could not load schema from %s database", a.store.Driver())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, sc.Schema)
			if !noSamples && sc.Samples != "" {
				fmt.Fprintln(out)
				fmt.Fprintln(out, sc.Samples)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSamples, "no-samples", false, "omit sample rows")
	return cmd
}
