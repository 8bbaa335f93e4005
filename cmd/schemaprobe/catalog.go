package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cgast/schemaprobe/pkg/catalog"
)

var validateCmd = &cobra.Command{
	Use:   "validate [catalog]",
	Short: "Check a catalog file without contacting a backend",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Catalog
		if len(args) == 1 {
			path = args[0]
		}
		c, err := loadCatalog(path)
		if err != nil {
			return err
		}
		source := path
		if source == "" {
			source = "built-in catalog"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d checks, %d entities, OK\n", source, c.Len(), len(c.Targets()))
		return nil
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the effective catalog as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCatalog(cfg.Catalog)
		if err != nil {
			return err
		}
		data, err := catalog.Marshal(c)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
