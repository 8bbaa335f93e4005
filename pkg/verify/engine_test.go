package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgast/schemaprobe/pkg/backend"
	"github.com/cgast/schemaprobe/pkg/backend/backendtest"
	"github.com/cgast/schemaprobe/pkg/catalog"
	"github.com/cgast/schemaprobe/pkg/events"
	"github.com/cgast/schemaprobe/pkg/probe"
	"github.com/cgast/schemaprobe/pkg/report"
)

// healthy returns a fake backend that satisfies every check in c.
func healthy(c *catalog.Catalog) *backendtest.Fake {
	f := backendtest.New()
	for _, spec := range c.Checks() {
		switch spec.Kind {
		case catalog.KindEntityExists:
			if _, ok := f.Counts[spec.Target]; !ok {
				f.Counts[spec.Target] = 0
			}
		case catalog.KindSeedDataPresent:
			f.Counts[spec.Target] = spec.MinRows()
		case catalog.KindSecurityEnforced:
			f.Protected[spec.Target] = true
			if _, ok := f.Counts[spec.Target]; !ok {
				f.Counts[spec.Target] = 0
			}
		}
	}
	return f
}

func newEngine(f *backendtest.Fake, opts ...probe.Option) *Engine {
	return NewEngine(probe.NewRunner(f.Clients(), opts...), WithRunID("test-run"))
}

// runSpecs validates specs into a catalog and runs it against f, the way the
// verify command does. Catalog errors stop the run before f is consulted.
func runSpecs(t *testing.T, f *backendtest.Fake, specs ...catalog.CheckSpec) (report.Report, error) {
	t.Helper()
	c, err := catalog.New(specs)
	if err != nil {
		return report.Report{}, err
	}
	return newEngine(f).Run(context.Background(), c)
}

func mustCatalog(t *testing.T, specs ...catalog.CheckSpec) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(specs)
	require.NoError(t, err)
	return c
}

func TestRunDefaultCatalogReady(t *testing.T) {
	c := catalog.Default()
	f := healthy(c)

	rep, err := newEngine(f).Run(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, 17, rep.Total())
	assert.Equal(t, 17, rep.PassCount)
	assert.Equal(t, report.VerdictReady, rep.Verdict)
	assert.Equal(t, 0, rep.ExitCode())
	assert.Empty(t, rep.MissingTargets)
	assert.Empty(t, rep.SecurityWarnings)
	assert.Equal(t, "test-run", rep.RunID)
}

func TestRunPreservesCatalogOrder(t *testing.T) {
	c := mustCatalog(t,
		catalog.CheckSpec{ID: "z", Kind: catalog.KindEntityExists, Target: "zeta"},
		catalog.CheckSpec{ID: "a", Kind: catalog.KindAuthReachable},
		catalog.CheckSpec{ID: "m", Kind: catalog.KindEntityExists, Target: "missing"},
	)
	f := backendtest.New()
	f.Counts["zeta"] = 1

	rep, err := newEngine(f).Run(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, rep.Results, 3)
	for i, spec := range c.Checks() {
		assert.Equal(t, spec.ID, rep.Results[i].CheckID)
	}
	assert.Equal(t, []string{"missing"}, rep.MissingTargets)
	assert.Equal(t, report.VerdictIncomplete, rep.Verdict)
}

func TestRunSecurityViolation(t *testing.T) {
	c := mustCatalog(t, catalog.CheckSpec{ID: "rls.x", Kind: catalog.KindSecurityEnforced, Target: "x"})
	f := backendtest.New()
	f.Counts["x"] = 2

	rep, err := newEngine(f).Run(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, rep.SecurityWarnings, 1)
	assert.Equal(t, "rls.x", rep.SecurityWarnings[0].CheckID)
	assert.False(t, rep.Ready())
}

func TestRunTimeoutAffectsOnlyThatProbe(t *testing.T) {
	c := mustCatalog(t,
		catalog.CheckSpec{ID: "fast1", Kind: catalog.KindEntityExists, Target: "a"},
		catalog.CheckSpec{ID: "slow", Kind: catalog.KindEntityExists, Target: "slow"},
		catalog.CheckSpec{ID: "fast2", Kind: catalog.KindEntityExists, Target: "b"},
	)
	f := backendtest.New()
	f.Counts["a"] = 1
	f.Counts["b"] = 1
	f.Counts["slow"] = 1
	f.Delays["slow"] = time.Second

	rep, err := newEngine(f, probe.WithTimeout(20*time.Millisecond)).Run(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, rep.Results, 3)

	assert.Equal(t, probe.StatusPass, rep.Results[0].Status)
	assert.Equal(t, probe.StatusError, rep.Results[1].Status)
	assert.Equal(t, probe.TimeoutMessage, rep.Results[1].Message)
	assert.Equal(t, probe.StatusPass, rep.Results[2].Status)
	assert.Equal(t, report.VerdictBroken, rep.Verdict)
}

func TestRunBackendErrorsDoNotAbort(t *testing.T) {
	c := mustCatalog(t,
		catalog.CheckSpec{ID: "one", Kind: catalog.KindEntityExists, Target: "a"},
		catalog.CheckSpec{ID: "two", Kind: catalog.KindEntityExists, Target: "b"},
	)
	f := backendtest.New()
	f.Errors["a"] = errors.New("connection reset")
	f.Counts["b"] = 3

	rep, err := newEngine(f).Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ErrorCount)
	assert.Equal(t, 1, rep.PassCount)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	c := catalog.Default()
	f := healthy(c)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := newEngine(f).Run(ctx, c)
	require.NoError(t, err)
	assert.Empty(t, rep.Results)
	assert.True(t, rep.Interrupted)
	assert.Equal(t, 17, rep.NotRun)
	assert.Equal(t, report.VerdictIncomplete, rep.Verdict)
	assert.Zero(t, f.Calls())
}

func TestRunCancelledMidway(t *testing.T) {
	c := mustCatalog(t,
		catalog.CheckSpec{ID: "one", Kind: catalog.KindEntityExists, Target: "a"},
		catalog.CheckSpec{ID: "two", Kind: catalog.KindEntityExists, Target: "b"},
		catalog.CheckSpec{ID: "three", Kind: catalog.KindEntityExists, Target: "c"},
	)
	f := backendtest.New()
	f.Counts["a"] = 1
	f.Counts["b"] = 1
	f.Counts["c"] = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel as soon as the second probe starts; it must still finish.
	bus := events.NewMemoryBus(0)
	sub := bus.Subscribe(events.EventProbeStart)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub {
			if ev.Index == 1 {
				cancel()
				return
			}
		}
	}()

	f.Delays["b"] = 50 * time.Millisecond
	eng := NewEngine(probe.NewRunner(f.Clients()), WithEventBus(bus))
	rep, err := eng.Run(ctx, c)
	require.NoError(t, err)
	<-done
	bus.Unsubscribe(sub)

	require.Len(t, rep.Results, 2)
	assert.Equal(t, probe.StatusPass, rep.Results[1].Status)
	assert.True(t, rep.Interrupted)
	assert.Equal(t, 1, rep.NotRun)
	assert.Equal(t, report.VerdictIncomplete, rep.Verdict)
}

func TestRunNilCatalog(t *testing.T) {
	f := backendtest.New()
	_, err := newEngine(f).Run(context.Background(), nil)

	var cfgErr *catalog.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, f.Calls())
}

func TestDuplicateCatalogNeverTouchesBackend(t *testing.T) {
	f := backendtest.New()
	f.Counts["plans"] = 1

	rep, err := runSpecs(t, f,
		catalog.CheckSpec{ID: "dup", Kind: catalog.KindAuthReachable},
		catalog.CheckSpec{ID: "plans", Kind: catalog.KindEntityExists, Target: "plans"},
		catalog.CheckSpec{ID: "dup", Kind: catalog.KindAuthReachable},
	)
	var cfgErr *catalog.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, rep.Results)
	assert.Zero(t, f.Calls())

	// The same specs with unique ids do reach the backend.
	rep, err = runSpecs(t, f,
		catalog.CheckSpec{ID: "auth", Kind: catalog.KindAuthReachable},
		catalog.CheckSpec{ID: "plans", Kind: catalog.KindEntityExists, Target: "plans"},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.PassCount)
	assert.Equal(t, 2, f.Calls())
}

func TestRunPublishesLifecycle(t *testing.T) {
	c := mustCatalog(t,
		catalog.CheckSpec{ID: "auth", Kind: catalog.KindAuthReachable},
		catalog.CheckSpec{ID: "gone", Kind: catalog.KindEntityExists, Target: "gone"},
	)
	f := backendtest.New()
	f.Identity = &backend.Identity{ID: "u1"}
	bus := events.NewMemoryBus(0)

	eng := NewEngine(probe.NewRunner(f.Clients()), WithEventBus(bus), WithRunID("r1"))
	_, err := eng.Run(context.Background(), c)
	require.NoError(t, err)

	var types []events.EventType
	for _, ev := range bus.History("r1") {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []events.EventType{
		events.EventRunStart,
		events.EventProbeStart, events.EventProbeEnd,
		events.EventProbeStart, events.EventProbeEnd, events.EventProbeFailed,
		events.EventRunEnd,
	}, types)
}

func TestRunUsesClock(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	f := backendtest.New()
	eng := NewEngine(probe.NewRunner(f.Clients()), WithClock(clock))

	rep, err := eng.Run(context.Background(), mustCatalog(t, catalog.CheckSpec{ID: "a", Kind: catalog.KindAuthReachable}))
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Second), rep.StartedAt)
	assert.Equal(t, base.Add(2*time.Second), rep.FinishedAt)
	assert.NotEmpty(t, rep.RunID)
}
