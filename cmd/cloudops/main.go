package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opscart/cloudops-cost-optimizer/pkg/config"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
)

var (
	// Global flags
	configFile   string
	outputFormat string
	verbose      bool

	// Loaded in PersistentPreRunE
	cfg *config.Config
	log *logger.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cloudops",
		Short: "Cloud cost dashboard services and tools",
		Long: `Runs the cost dashboard services (gateway, user-service, monitoring,
analytics, optimizer) and one-shot commands against the recommendation store.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				log.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, json or toml); environment variables override it")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serviceCommands()...)
	rootCmd.AddCommand(
		recommendCmd(),
		verifyCmd(),
		historyCmd(),
		savingsCmd(),
		reportCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configFile)
	if err != nil {
		return err
	}
	if outputFormat != "" {
		cfg.OutputFormat = outputFormat
	}
	if verbose {
		cfg.LogMode = "development"
	}

	log, err = logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
