// Package probe executes single checks against a backend and normalizes
// their outcome into a Result.
package probe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cgast/schemaprobe/pkg/backend"
	"github.com/cgast/schemaprobe/pkg/catalog"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 10 * time.Second

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the per-probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithChecker overrides the checker for a kind.
func WithChecker(kind catalog.Kind, c Checker) Option {
	return func(r *Runner) {
		r.checkers[kind] = c
	}
}

// Runner executes checks one at a time against a fixed set of clients.
type Runner struct {
	clients  backend.Clients
	timeout  time.Duration
	logger   *zap.Logger
	checkers map[catalog.Kind]Checker
}

// NewRunner creates a Runner.
func NewRunner(clients backend.Clients, opts ...Option) *Runner {
	r := &Runner{
		clients:  clients,
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
		checkers: make(map[catalog.Kind]Checker, len(builtinCheckers)),
	}
	for k, c := range builtinCheckers {
		r.checkers[k] = c
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeout returns the per-probe timeout.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Run executes spec and always returns a Result. The probe is not cut short
// by cancellation of ctx, only by its own timeout; panics inside a checker
// become StatusError.
func (r *Runner) Run(ctx context.Context, spec catalog.CheckSpec) Result {
	start := time.Now()
	base := newResult(spec)

	checker, ok := r.checkers[spec.Kind]
	if !ok {
		res := base.errored(fmt.Sprintf("no checker for kind %q", spec.Kind))
		res.Duration = time.Since(start)
		return res
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	// Buffered so an abandoned checker can still deliver and exit.
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- base.errored(fmt.Sprintf("probe panicked: %v", p))
			}
		}()
		done <- checker(pctx, r.clients, spec)
	}()

	var res Result
	select {
	case res = <-done:
	case <-pctx.Done():
		res = base.errored(TimeoutMessage)
	}
	res.Duration = time.Since(start)

	r.logger.Debug("probe finished",
		zap.String("check", spec.ID),
		zap.String("kind", string(spec.Kind)),
		zap.String("target", spec.Target),
		zap.String("status", string(res.Status)),
		zap.Duration("duration", res.Duration),
	)
	return res
}
