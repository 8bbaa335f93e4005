package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cgast/schemaprobe/pkg/verify"
)

var historyListDir string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored reports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory()
		if err != nil {
			return err
		}
		infos, err := h.List()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tFINISHED\tVERDICT")
		for _, info := range infos {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", info.RunID, info.FinishedAt.Format("2006-01-02 15:04:05"), info.Verdict)
		}
		return tw.Flush()
	},
}

var historyDiffCmd = &cobra.Command{
	Use:   "diff <run-a> <run-b>",
	Short: "Show checks whose status changed between two runs",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory()
		if err != nil {
			return err
		}
		changes, err := h.Diff(args[0], args[1])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(changes); err != nil {
			return err
		}
		for _, c := range changes {
			if c.Regression() {
				exitCode = 1
				break
			}
		}
		return nil
	},
}

func init() {
	historyCmd.PersistentFlags().StringVar(&historyListDir, "dir", "", "history directory (default: history.dir from config)")
	historyCmd.AddCommand(historyDiffCmd)
}

func openHistory() (*verify.History, error) {
	dir := cfg.History.Dir
	if historyListDir != "" {
		dir = historyListDir
	}
	if dir == "" {
		return nil, fmt.Errorf("no history directory: set history.dir or --dir")
	}
	return verify.NewHistory(dir)
}
