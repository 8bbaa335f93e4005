package probe

import (
	"time"

	"github.com/cgast/schemaprobe/pkg/catalog"
)

// Status is the outcome of one probe.
type Status string

const (
	// StatusPass means the expectation held.
	StatusPass Status = "pass"
	// StatusFail means the backend answered but the expectation was not met.
	StatusFail Status = "fail"
	// StatusError means the probe could not observe the backend.
	StatusError Status = "error"
)

// TimeoutMessage is the message of a probe that ran out of time.
const TimeoutMessage = "timeout"

// Result is the normalized outcome of executing one CheckSpec.
type Result struct {
	CheckID  string       `json:"check_id"`
	Kind     catalog.Kind `json:"kind"`
	Target   string       `json:"target,omitempty"`
	Status   Status       `json:"status"`
	Observed any          `json:"observed,omitempty"`
	Message  string       `json:"message"`

	// PolicyViolation marks a security_enforced failure where an
	// unauthenticated read succeeded.
	PolicyViolation bool          `json:"policy_violation,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
}

func newResult(spec catalog.CheckSpec) Result {
	return Result{
		CheckID: spec.ID,
		Kind:    spec.Kind,
		Target:  spec.Target,
	}
}

func (r Result) pass(observed any, msg string) Result {
	r.Status, r.Observed, r.Message = StatusPass, observed, msg
	return r
}

func (r Result) fail(observed any, msg string) Result {
	r.Status, r.Observed, r.Message = StatusFail, observed, msg
	return r
}

func (r Result) errored(msg string) Result {
	r.Status, r.Message = StatusError, msg
	return r
}
