// Package report folds probe results into a verification report and renders
// it for people and machines.
package report

import (
	"sort"
	"time"

	"github.com/cgast/schemaprobe/pkg/catalog"
	"github.com/cgast/schemaprobe/pkg/probe"
)

// Verdict summarizes a whole run.
type Verdict string

const (
	// VerdictReady means every check passed.
	VerdictReady Verdict = "ready"
	// VerdictIncomplete means the backend was observed but expectations failed,
	// or the run was interrupted.
	VerdictIncomplete Verdict = "incomplete"
	// VerdictBroken means at least one check could not observe the backend.
	VerdictBroken Verdict = "broken"
)

// Warning flags a live security defect.
type Warning struct {
	CheckID string `json:"check_id"`
	Target  string `json:"target"`
	Message string `json:"message"`
}

// Report is the aggregate of one verification run.
type Report struct {
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	Results          []probe.Result `json:"results"`
	PassCount        int            `json:"pass_count"`
	FailCount        int            `json:"fail_count"`
	ErrorCount       int            `json:"error_count"`
	MissingTargets   []string       `json:"missing_targets"`
	SecurityWarnings []Warning      `json:"security_warnings"`
	Verdict          Verdict        `json:"verdict"`

	// Interrupted is set when the run was cancelled before every check ran.
	Interrupted bool `json:"interrupted,omitempty"`
	NotRun      int  `json:"not_run,omitempty"`
}

// Aggregate folds results, in order, into a Report. It is a pure function of
// its input.
func Aggregate(results []probe.Result) Report {
	r := Report{
		Results:          append([]probe.Result(nil), results...),
		MissingTargets:   []string{},
		SecurityWarnings: []Warning{},
	}

	missing := make(map[string]bool)
	for _, res := range results {
		switch res.Status {
		case probe.StatusPass:
			r.PassCount++
			continue
		case probe.StatusFail:
			r.FailCount++
		default:
			r.ErrorCount++
		}

		if res.Kind == catalog.KindEntityExists && res.Target != "" {
			missing[res.Target] = true
		}
		if res.PolicyViolation {
			r.SecurityWarnings = append(r.SecurityWarnings, Warning{
				CheckID: res.CheckID,
				Target:  res.Target,
				Message: res.Message,
			})
		}
	}

	for t := range missing {
		r.MissingTargets = append(r.MissingTargets, t)
	}
	sort.Strings(r.MissingTargets)

	r.Verdict = verdict(r.FailCount, r.ErrorCount)
	return r
}

func verdict(fails, errs int) Verdict {
	switch {
	case errs > 0:
		return VerdictBroken
	case fails > 0:
		return VerdictIncomplete
	}
	return VerdictReady
}

// Interrupt marks the report as cut short after len(Results) of total checks.
// An interrupted run is never ready nor broken: it is incomplete.
func (r *Report) Interrupt(total int) {
	r.Interrupted = true
	r.NotRun = total - len(r.Results)
	if r.NotRun < 0 {
		r.NotRun = 0
	}
	r.Verdict = VerdictIncomplete
}

// Total returns the number of results.
func (r Report) Total() int {
	return len(r.Results)
}

// Ready reports whether the backend passed every check.
func (r Report) Ready() bool {
	return r.Verdict == VerdictReady
}

// ExitCode maps the verdict to a process exit status.
func (r Report) ExitCode() int {
	if r.Ready() {
		return 0
	}
	return 1
}
