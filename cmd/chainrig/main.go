package main

import (
	"fmt"
	"os"

	"chainrig/internal/config"
	"chainrig/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chainrig",
	Short: "chainrig - live audio chain switcher",
	Long: `chainrig builds named audio chains, keeps one playing while the next is
prepared, and switches between them on command, after a delay, or on the beat.

Commands arrive over OSC at /<namespace>/<command>:
  setNext <name>        stage a chain
  switchNow             switch to the staged chain
  switchAfter <secs>    switch after a delay
  switchOnBeat [n]      switch on the n-th next beat
  new <name> [slots]    create a chain and start editing it
  add <slot> <role>     set a slot of the edited chain
  remove <slot>         reset a slot of the edited chain
  setFrom <slot> <role>...
  status, ping`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}

		logger, err = logging.Build(cfg.Logging.Logger(), verbose)
		if err != nil {
			return err
		}
		logging.For(logger, logging.CategoryBoot).Debug("config loaded",
			zap.String("path", configPath),
			zap.String("namespace", cfg.Namespace))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
