// Command piiscan analyzes datasets and text for PII from the command line.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raaihank/pii-sentinel/internal/app"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// cli carries state shared by subcommands after PersistentPreRunE.
type cli struct {
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *logger.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Logs go to logOut so stdout stays
// reserved for results.
func newRootCmd(logOut io.Writer) *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "piiscan",
		Short: "Detect and mask PII in text and datasets",
		Long: `piiscan runs the PII Sentinel analysis engine offline.

It reads CSV, Parquet, JSON and JSON-lines datasets, scores every record
and writes one JSON result per line. Entity sources, cache and audit
trail are configured exactly like the server.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if c.logLevel != "" {
				cfg.Logging.Level = c.logLevel
			}
			log, err := logger.New(logger.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: logOut,
			})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			c.cfg = cfg
			c.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(
		newScanCmd(c),
		newMaskCmd(c),
		newRulesCmd(c),
	)
	return root
}

func (c *cli) build() (*app.App, error) {
	return app.Build(c.cfg, c.log)
}
