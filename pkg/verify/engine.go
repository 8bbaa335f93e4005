// Package verify runs a catalog of checks against a backend, one probe at a
// time, and folds the outcomes into a report.
package verify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cgast/schemaprobe/pkg/catalog"
	"github.com/cgast/schemaprobe/pkg/events"
	"github.com/cgast/schemaprobe/pkg/probe"
	"github.com/cgast/schemaprobe/pkg/report"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEventBus publishes run progress to p.
func WithEventBus(p events.Publisher) Option {
	return func(e *Engine) {
		e.bus = p
	}
}

// WithClock replaces time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(e *Engine) {
		e.runID = func() string { return id }
	}
}

// Engine is the verification pipeline.
type Engine struct {
	runner *probe.Runner
	logger *zap.Logger
	bus    events.Publisher
	now    func() time.Time
	runID  func() string
}

// NewEngine creates an Engine that probes through runner.
func NewEngine(runner *probe.Runner, opts ...Option) *Engine {
	e := &Engine{
		runner: runner,
		logger: zap.NewNop(),
		now:    time.Now,
		runID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run probes every check of c in catalog order and returns the aggregated
// report. Per-check problems never surface as an error; they are results.
// If ctx is cancelled, no further probes start and the partial report is
// marked interrupted.
func (e *Engine) Run(ctx context.Context, c *catalog.Catalog) (report.Report, error) {
	if c == nil {
		return report.Report{}, &catalog.ConfigurationError{
			Problems: []catalog.Problem{{Field: "catalog", Message: "no catalog"}},
		}
	}

	runID := e.runID()
	started := e.now()
	total := c.Len()
	log := e.logger.With(zap.String("run_id", runID))

	log.Info("verification started", zap.Int("checks", total))
	e.publish(events.NewEvent(events.EventRunStart, runID, total))

	results := make([]probe.Result, 0, total)
	interrupted := false
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			interrupted = true
			log.Warn("verification interrupted",
				zap.Int("completed", i),
				zap.Int("remaining", total-i),
				zap.Error(err),
			)
			break
		}

		spec := c.At(i)
		e.publish(events.NewProbeEvent(events.EventProbeStart, runID, i, spec.ID, spec.Kind))

		res := e.runner.Run(ctx, spec)
		results = append(results, res)

		end := events.NewProbeEvent(events.EventProbeEnd, runID, i, spec.ID, res)
		end.Duration = res.Duration
		e.publish(end)
		if res.Status != probe.StatusPass {
			e.publish(events.NewProbeEvent(events.EventProbeFailed, runID, i, spec.ID, res))
		}
	}

	rep := report.Aggregate(results)
	rep.RunID = runID
	rep.StartedAt = started
	if interrupted {
		rep.Interrupt(total)
		e.publish(events.NewEvent(events.EventRunAborted, runID, rep.NotRun))
	}
	rep.FinishedAt = e.now()

	log.Info("verification finished",
		zap.String("verdict", string(rep.Verdict)),
		zap.Int("passed", rep.PassCount),
		zap.Int("failed", rep.FailCount),
		zap.Int("errors", rep.ErrorCount),
		zap.Duration("elapsed", rep.FinishedAt.Sub(started)),
	)
	e.publish(events.NewEvent(events.EventRunEnd, runID, rep.Verdict))
	return rep, nil
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
