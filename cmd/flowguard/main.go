package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "flowguard",
		Short: "FlowGuard - LLM-driven flow anomaly controller",
		Long: `FlowGuard generates flow records, asks an LLM classifier whether each flow
is anomalous and installs a drop rule for the offending source address.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (JSON or YAML)")

	promptCmd := &cobra.Command{
		Use:   "prompt",
		Short: "Inspect the prompt template",
	}
	promptCmd.AddCommand(newPromptShowCmd())

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Query the rule audit database",
	}
	rulesCmd.AddCommand(newRulesListCmd(), newRulesStatsCmd(), newRulesSchemaCmd())

	rootCmd.AddCommand(
		newRunCmd(),
		newGenerateCmd(),
		newNormalizeCmd(),
		promptCmd,
		rulesCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "flowguard %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
