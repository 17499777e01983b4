package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/predikt/params"
	"github.com/uhyunpark/predikt/pkg/app/core"
	"github.com/uhyunpark/predikt/pkg/util"
)

const (
	outputFlagName     = "output"
	outputFlagValJSON  = "json"
	outputFlagValHuman = "human"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "audit",
	Short: "Offline inspection and verification of a stopped node's data",
	Long: `audit opens the node's data directory directly. Stop the node first:
the store accepts a single process.`,
	SilenceUsage: true,
}

var (
	dataDir  string
	envFile  string
	logLevel string
	output   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (defaults to DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to a .env file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level")
	rootCmd.PersistentFlags().StringVar(&output, outputFlagName, outputFlagValHuman, "Specify the output format: json,human")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(tradesCmd)
	rootCmd.AddCommand(positionsCmd)
	rootCmd.AddCommand(orderCmd)
}

func openCore() (*core.App, error) {
	switch output {
	case outputFlagValHuman, outputFlagValJSON:
	default:
		return nil, fmt.Errorf("%s flag must be either %q or %q", outputFlagName, outputFlagValHuman, outputFlagValJSON)
	}

	cfg := params.LoadFromEnv(envFile)
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if _, err := os.Stat(cfg.Storage.DataDir); err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}

	log, err := util.NewLogger(logLevel)
	if err != nil {
		return nil, err
	}
	return core.Open(core.Options{Config: cfg, Log: log})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
