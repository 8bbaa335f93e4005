package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/schemaprobe/internal/config"
	"github.com/cgast/schemaprobe/internal/inspector"
	"github.com/cgast/schemaprobe/internal/notify"
	"github.com/cgast/schemaprobe/pkg/catalog"
	"github.com/cgast/schemaprobe/pkg/events"
	"github.com/cgast/schemaprobe/pkg/probe"
	"github.com/cgast/schemaprobe/pkg/report"
	"github.com/cgast/schemaprobe/pkg/verify"
)

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// The catalog is checked before any backend client exists.
	cat, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	be, err := openBackend(cfg.Backend, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	bus := events.NewMemoryBus(0)
	if progress {
		stopProgress := watchProgress(bus, cmd.ErrOrStderr())
		defer stopProgress()
	}

	var history *verify.History
	if cfg.History.Dir != "" {
		if history, err = verify.NewHistory(cfg.History.Dir); err != nil {
			return err
		}
	}

	if inspectAddr != "" {
		inspectCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		srv := inspector.New(bus, history, logger)
		go func() {
			if err := srv.Serve(inspectCtx, inspectAddr); err != nil {
				logger.Warn("inspector stopped", zap.Error(err))
			}
		}()
	}

	runner := probe.NewRunner(be.Clients,
		probe.WithTimeout(cfg.Probe.Timeout()),
		probe.WithLogger(logger),
	)
	engine := verify.NewEngine(runner,
		verify.WithLogger(logger),
		verify.WithEventBus(bus),
	)

	rep, err := engine.Run(ctx, cat)
	if err != nil {
		return err
	}

	if err := report.Write(cmd.OutOrStdout(), rep, resolveFormat(cfg.Report.Format, cmd.OutOrStdout())); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if history != nil {
		recordHistory(history, rep)
	}
	if notifyIssue && cfg.Notify.GitHub.Enabled() && !rep.Interrupted {
		sendNotice(ctx, cfg.Notify.GitHub, rep)
	}

	exitCode = rep.ExitCode()
	return nil
}

// loadCatalog reads path, or returns the built-in catalog when path is empty.
func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(path)
}

// resolveFormat picks the configured format, or text for terminals and JSON
// for pipes.
func resolveFormat(configured string, w io.Writer) string {
	if configured != "" {
		return configured
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return report.FormatText
	}
	return report.FormatJSON
}

func watchProgress(bus *events.MemoryBus, w io.Writer) func() {
	ch := bus.Subscribe(events.EventRunStart, events.EventProbeEnd, events.EventRunAborted)
	done := make(chan struct{})
	go func() {
		defer close(done)
		total := 0
		for ev := range ch {
			switch ev.Type {
			case events.EventRunStart:
				total, _ = ev.Data.(int)
				fmt.Fprintf(w, "run %s: %d checks\n", ev.RunID, total)
			case events.EventProbeEnd:
				res, _ := ev.Data.(probe.Result)
				fmt.Fprintf(w, "[%d/%d] %-5s %s (%s)\n", ev.Index+1, total, res.Status, ev.CheckID, ev.Duration.Round(time.Millisecond))
			case events.EventRunAborted:
				fmt.Fprintf(w, "interrupted, %v checks not run\n", ev.Data)
			}
		}
	}()
	return func() {
		bus.Unsubscribe(ch)
		<-done
	}
}

func recordHistory(h *verify.History, rep report.Report) {
	prev, ok, err := h.Latest()
	if err != nil {
		logger.Warn("read report history", zap.Error(err))
	}
	if ok {
		for _, c := range verify.DiffReports(prev, rep) {
			if c.Regression() {
				logger.Warn("check regressed",
					zap.String("check", c.CheckID),
					zap.String("before", string(c.Before)),
					zap.String("after", string(c.After)),
					zap.String("previous_run", prev.RunID),
				)
			}
		}
	}
	if err := h.Save(rep); err != nil {
		logger.Warn("save report", zap.Error(err))
	}
}

func sendNotice(ctx context.Context, gh config.GitHubConfig, rep report.Report) {
	owner, name, err := config.SplitRepo(gh.Repo)
	if err != nil {
		logger.Warn("github notify", zap.Error(err))
		return
	}
	n, err := notify.NewGitHubNotifier(gh.Token, owner, name, gh.Labels, notify.WithLogger(logger))
	if err != nil {
		logger.Warn("github notify", zap.Error(err))
		return
	}
	if _, err := n.Notify(ctx, rep); err != nil {
		logger.Warn("github notify failed", zap.Error(err))
	}
}
