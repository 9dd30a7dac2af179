// Package gate coordinates the lifecycle of gated tool calls: policy
// evaluation, human confirmation, safety checks, and handler execution.
package gate

import (
	"context"
	"time"

	"github.com/ridgeline-ai/gatehouse/policy"
)

// ExecutionState is one step of the tool-call lifecycle state machine.
//
//	Pending → {Confirming → {Executing, Cancelled}, Executing} → {Success, Failed}
//	Pending → Blocked (policy denial, terminal)
type ExecutionState int

const (
	StatePending ExecutionState = iota + 1
	StateConfirming
	StateExecuting
	StateSuccess
	StateFailed
	StateBlocked
	StateCancelled
)

// String returns the lowercase state name.
func (s ExecutionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirming:
		return "confirming"
	case StateExecuting:
		return "executing"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	case StateBlocked:
		return "blocked"
	case StateCancelled:
		return "cancelled"
	default:
		return "unspecified"
	}
}

// IsTerminal reports whether the state ends the lifecycle.
func (s ExecutionState) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateBlocked, StateCancelled:
		return true
	default:
		return false
	}
}

// Failure kinds carried on results and execution records.
const (
	ErrKindPolicyDenied   = "policy_denied"
	ErrKindUserCancelled  = "user_cancelled"
	ErrKindSafetyBlocked  = "safety_blocked"
	ErrKindHandlerError   = "handler_error"
	ErrKindHandlerTimeout = "handler_timeout"
)

// ExecutionInfo is the lifecycle record for one tool call. Owned
// exclusively by the Tracker; callers receive copies.
type ExecutionInfo struct {
	ID                   string
	ToolName             string
	AgentName            string
	Parameters           map[string]any
	State                ExecutionState
	Decision             *policy.Decision
	RequiresConfirmation bool
	Confirmed            *bool
	CreatedAt            time.Time
	StartedAt            time.Time
	CompletedAt          time.Time
	Result               any
	Error                string
	ErrorKind            string
}

// ExecutionResult is the structured outcome returned by Execute. Every
// failure category lands here with a human-readable reason; Execute never
// panics outward.
type ExecutionResult struct {
	ID        string
	ToolName  string
	Success   bool
	Result    any
	Error     string
	ErrorKind string
	State     ExecutionState
	Duration  time.Duration
}

// Handler is the opaque caller-supplied action behind a tool call. The
// core does not retry handlers and cannot forcibly stop one: on timeout
// the handler is abandoned, so handlers should honor ctx cancellation or
// be safe to abandon mid-flight.
type Handler func(ctx context.Context, params map[string]any) (any, error)
