package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/annotated-calllog/internal/device"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.yaml>",
	Short: "Load calls, contacts and blocked numbers into the device providers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "seed")
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := device.LoadFixture(args[0])
		if err != nil {
			return err
		}
		if err := env.Device.Seed(ctx, f); err != nil {
			return err
		}

		zap.L().Info("device seeded",
			zap.String("fixture", args[0]),
			zap.Int("calls", len(f.Calls)),
			zap.Int("contacts", len(f.Contacts)),
			zap.Int("blocked", len(f.Blocked)),
		)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d calls, %d contacts, %d blocked numbers\n",
			len(f.Calls), len(f.Contacts), len(f.Blocked))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
