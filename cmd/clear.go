package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/annotated-calllog/internal/calllog"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the annotated call log, lookup history and refresh state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "clear")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := calllog.NewFramework(env.Worker, nil).ClearData(ctx); err != nil {
			return err
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Annotated call log cleared; the next refresh rebuilds it.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}
