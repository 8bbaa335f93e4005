package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/schemaprobe/internal/config"
	"github.com/cgast/schemaprobe/pkg/backend/fixture"
)

var (
	captureOut  string
	captureRows int
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Snapshot the configured backend into a fixture file",
	Long: `capture reads every entity named by the catalog from the configured
backend and writes rows, anonymous access policies and the session identity
into a bbolt fixture. Run against it later with --driver fixture --dsn FILE.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Backend.Driver == config.DriverFixture {
			return fmt.Errorf("capture needs a live backend, not a fixture")
		}
		cat, err := loadCatalog(cfg.Catalog)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		src, err := openBackend(cfg.Backend, logger)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := fixture.Open(captureOut)
		if err != nil {
			return err
		}
		defer dst.Close()

		sum, err := fixture.Capture(cmd.Context(), src.Clients, cat.Targets(), dst, captureRows)
		if err != nil {
			return err
		}
		logger.Info("capture finished",
			zap.String("out", captureOut),
			zap.Int("entities", len(sum.Entities)),
			zap.Strings("missing", sum.Missing),
			zap.Int("errors", len(sum.Errors)),
		)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
		if len(sum.Errors) > 0 {
			exitCode = 1
		}
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "fixture.db", "fixture file to write")
	captureCmd.Flags().IntVar(&captureRows, "max-rows", fixture.DefaultCaptureRows, "rows to copy per entity")
}
