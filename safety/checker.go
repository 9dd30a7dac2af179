// Package safety runs pluggable checkers over a tool call concurrently and
// aggregates their verdicts into a single pipeline result.
package safety

import (
	"context"

	"github.com/ridgeline-ai/gatehouse/policy"
)

// Status is a single checker's verdict.
type Status int

const (
	StatusPassed Status = iota + 1
	StatusWarning
	StatusFailed
	StatusError
	StatusSkipped
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusWarning:
		return "warning"
	case StatusFailed:
		return "failed"
	case StatusError:
		return "error"
	case StatusSkipped:
		return "skipped"
	default:
		return "unspecified"
	}
}

// severity orders statuses for overall-status merging. StatusError sits
// between warning and failed: a checker-reported error raises the overall
// status but does not by itself make the pipeline unsafe.
func (s Status) severity() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusError:
		return 2
	case StatusFailed:
		return 3
	default:
		return 0
	}
}

// Checker inspects one tool call and returns a verdict. Implementations
// must be stateless per call, respect the context deadline, and return
// quickly.
type Checker interface {
	// Name returns the checker's unique identifier.
	Name() string

	// Check runs the inspection against the given call.
	Check(ctx context.Context, call *policy.ToolCall) (*Result, error)
}

// Result is the outcome of a single checker run.
type Result struct {
	CheckerName string
	Status      Status
	Message     string
	Risk        policy.RiskLevel
	Details     map[string]any
	Suggestions []string
	CanOverride bool

	// ParameterModifications, when non-empty, is merged into the call's
	// parameters before the handler runs (later checkers win on conflict).
	ParameterModifications map[string]any
}

// IsBlocking reports whether the result blocks execution outright.
func (r *Result) IsBlocking() bool {
	return r.Status == StatusFailed && !r.CanOverride
}
