// Package audit records structured gating events. Sinks are best-effort:
// writing must never block or fail the calling execution flow.
package audit

import "time"

// Event is one structured audit record emitted by the coordinator.
type Event struct {
	Timestamp   time.Time
	EventType   string // policy_evaluated, confirmation_resolved, pre_execution, post_execution
	Phase       string // policy, confirmation, safety, execution
	ExecutionID string
	ToolName    string
	AgentName   string
	RequestID   string
	UserID      string
	SessionID   string
	Allowed     *bool
	Supervision string
	Risk        string
	Result      string
	Error       string
	Metadata    map[string]string
}

// Sink persists audit events. Write must never block the caller.
type Sink interface {
	Write(event *Event)
	Close()
}
