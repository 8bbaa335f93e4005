package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/schemaprobe/internal/config"
	"github.com/cgast/schemaprobe/internal/logging"
)

var (
	configPath  string
	catalogPath string
	format      string
	driver      string
	dsn         string
	historyDir  string
	inspectAddr string
	timeout     time.Duration
	verbose     bool
	progress    bool
	notifyIssue bool

	cfg    config.Config
	logger *zap.Logger

	// exitCode is set by commands that finish without an error but must
	// still fail the process, such as a run that is not ready.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "schemaprobe",
	Short: "Verify that a backend matches what the application expects",
	Long: `schemaprobe probes a running backend for the entities, seed data,
authentication service and row-level security policies an application
relies on, and reports whether the backend is ready.

The process exits 0 only when every check passes.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd)

		logger, err = logging.New(cfg.LogLevel, verbose)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runVerify,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", config.DefaultPath, "config file")
	pf.StringVar(&catalogPath, "catalog", "", "catalog file (default: built-in catalog)")
	pf.StringVar(&driver, "driver", "", "backend driver: rest, sqlite, fixture")
	pf.StringVar(&dsn, "dsn", "", "sqlite database or fixture file")
	pf.DurationVar(&timeout, "timeout", 0, "per-probe timeout (default from config, 10s)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	f := rootCmd.Flags()
	f.StringVarP(&format, "format", "f", "", "report format: text, json, markdown (default: text on a terminal, json otherwise)")
	f.BoolVar(&progress, "progress", false, "print probe progress to stderr")
	f.BoolVar(&notifyIssue, "notify", true, "open a GitHub issue when not ready (needs notify.github.repo)")
	f.StringVar(&historyDir, "history", "", "directory to store reports in and compare against")
	f.StringVar(&inspectAddr, "inspect", "", "serve live progress on this address, e.g. :8080")

	rootCmd.AddCommand(validateCmd, catalogCmd, captureCmd, historyCmd)
}

// applyFlags lets explicitly set flags win over config and environment.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("catalog") {
		cfg.Catalog = catalogPath
	}
	if flags.Changed("driver") {
		cfg.Backend.Driver = driver
	}
	if flags.Changed("dsn") {
		cfg.Backend.DSN = dsn
	}
	if flags.Changed("timeout") {
		cfg.Probe.TimeoutSeconds = int(timeout.Round(time.Second) / time.Second)
		if cfg.Probe.TimeoutSeconds == 0 && timeout > 0 {
			cfg.Probe.TimeoutSeconds = 1
		}
	}
	if flags.Lookup("format") != nil && flags.Changed("format") {
		cfg.Report.Format = format
	}
	if flags.Lookup("history") != nil && flags.Changed("history") {
		cfg.History.Dir = historyDir
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
