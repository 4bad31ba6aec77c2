package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/annotated-calllog/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "calllog",
	Short: "Annotated call log reconciliation engine",
	Long:  "Keeps an annotated copy of the device call log in sync with the system call log, contacts, blocked numbers, emergency numbers and the remote caller-ID directory.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
