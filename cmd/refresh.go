package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/annotated-calllog/internal/calllog"
)

var refreshCheckDirty bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one refresh cycle of the annotated call log",
	Long:  "Fills every data source into one mutation set and applies it to the annotated call log. With --check-dirty the cycle is skipped when no source reports changes.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "refresh")
		if err != nil {
			return err
		}
		defer env.Close()

		var result calllog.RefreshResult
		if refreshCheckDirty {
			result, err = env.Worker.RefreshWithDirtyCheck(ctx)
		} else {
			result, err = env.Worker.RefreshWithoutDirtyCheck(ctx)
		}
		if err != nil {
			return err
		}

		zap.L().Info("refresh complete", zap.Stringer("result", result))
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshCheckDirty, "check-dirty", false, "skip the cycle when no data source is dirty")
	rootCmd.AddCommand(refreshCmd)
}
