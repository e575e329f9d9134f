package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealtrack/internal/config"
)

var (
	cfg *config.Config

	storeDriver string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "dealtrack",
	Short: "Shipment identity and tracking reconciliation",
	Long:  "Links freight emails to canonical deals, merges duplicates, and evaluates schedule, progress and dwell risk for each deal.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyOverrides(c)
		if err := c.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("store", cfg.Store.Driver),
		)
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
}

// applyOverrides lets flags win over file and environment values.
func applyOverrides(c *config.Config) {
	if storeDriver != "" {
		c.Store.Driver = storeDriver
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "identity store driver (postgres, sqlite, redis)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
