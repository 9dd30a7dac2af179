package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ridgeline-ai/gatehouse/audit"
	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/ridgeline-ai/gatehouse/safety"
	"go.uber.org/zap"
)

// Default gate timeouts.
const (
	DefaultConfirmationTimeout = 300 * time.Second
	DefaultHandlerTimeout      = 30 * time.Second
)

// OverrideHandler decides whether overridable safety warnings may be
// bypassed. Returning false aborts the call.
type OverrideHandler func(ctx context.Context, info ExecutionInfo, result *safety.PipelineResult) bool

// Coordinator drives one tool call through the full gating lifecycle:
// policy evaluation, the confirmation gate, the safety pipeline, the
// override gate, and finally the handler under a timeout. Calls run
// independently; a call suspended on its confirmation gate never blocks
// another call's flow.
type Coordinator struct {
	engine         *policy.Engine
	pipeline       *safety.Pipeline
	tracker        *Tracker
	sink           audit.Sink
	overrideFn     OverrideHandler
	confirmTimeout time.Duration
	handlerTimeout time.Duration
	logger         *zap.Logger
}

// Config configures a Coordinator. Engine and Pipeline are required;
// everything else has a default.
type Config struct {
	Engine              *policy.Engine
	Pipeline            *safety.Pipeline
	Tracker             *Tracker
	Sink                audit.Sink
	OverrideHandler     OverrideHandler
	ConfirmationTimeout time.Duration
	HandlerTimeout      time.Duration
	Logger              *zap.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewTracker(TrackerConfig{Logger: cfg.Logger})
	}
	confirmTimeout := cfg.ConfirmationTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmationTimeout
	}
	handlerTimeout := cfg.HandlerTimeout
	if handlerTimeout <= 0 {
		handlerTimeout = DefaultHandlerTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		engine:         cfg.Engine,
		pipeline:       cfg.Pipeline,
		tracker:        tracker,
		sink:           cfg.Sink,
		overrideFn:     cfg.OverrideHandler,
		confirmTimeout: confirmTimeout,
		handlerTimeout: handlerTimeout,
		logger:         logger,
	}
}

// Tracker exposes the execution state tracker for UI collaborators.
func (c *Coordinator) Tracker() *Tracker { return c.tracker }

// Evaluate resolves a policy decision without executing, for callers that
// drive previews.
func (c *Coordinator) Evaluate(call *policy.ToolCall) *policy.Decision {
	return c.engine.Evaluate(call)
}

// Execute gates and runs one tool call. Every failure category returns a
// structured result; Execute never propagates a panic from the handler or
// a checker.
func (c *Coordinator) Execute(ctx context.Context, toolName string, params map[string]any, ec policy.ExecutionContext, handler Handler) *ExecutionResult {
	start := time.Now()

	call := buildToolCall(toolName, params, ec)
	info := c.tracker.Create(toolName, call.AgentName, call.Parameters, nil)
	id := info.ID

	decision := c.engine.Evaluate(call)
	c.tracker.Update(id, func(i *ExecutionInfo) {
		i.Decision = decision
		i.RequiresConfirmation = decision.RequiresConfirmation
	})
	c.emit(&audit.Event{
		EventType:   "policy_evaluated",
		Phase:       "policy",
		ExecutionID: id,
		ToolName:    toolName,
		AgentName:   call.AgentName,
		RequestID:   call.RequestID,
		UserID:      ec.UserID,
		SessionID:   ec.SessionID,
		Allowed:     &decision.Allowed,
		Supervision: decision.Supervision.String(),
		Risk:        decision.Risk.String(),
	})

	if !decision.Allowed {
		c.tracker.Complete(id, StateBlocked, nil, decision.Reason, ErrKindPolicyDenied)
		return c.fail(id, toolName, start, StateBlocked, decision.Reason, ErrKindPolicyDenied, ec, call)
	}

	if decision.RequiresConfirmation {
		c.tracker.RequireConfirmation(id, decision)
		confirmed, err := c.tracker.WaitForConfirmation(ctx, id, c.confirmTimeout)
		if err != nil {
			confirmed = false
		}
		c.emit(&audit.Event{
			EventType:   "confirmation_resolved",
			Phase:       "confirmation",
			ExecutionID: id,
			ToolName:    toolName,
			AgentName:   call.AgentName,
			RequestID:   call.RequestID,
			UserID:      ec.UserID,
			SessionID:   ec.SessionID,
			Result:      fmt.Sprintf("confirmed=%t", confirmed),
		})
		if !confirmed {
			reason := "cancelled by user"
			c.tracker.Complete(id, StateCancelled, nil, reason, ErrKindUserCancelled)
			return c.fail(id, toolName, start, StateCancelled, reason, ErrKindUserCancelled, ec, call)
		}
	}

	pipelineResult := c.pipeline.Run(ctx, call, decision.SafetyChecks)
	if !pipelineResult.IsSafe() {
		reason := "safety checks failed: " + strings.Join(pipelineResult.BlockingIssues, "; ")
		c.tracker.Complete(id, StateFailed, nil, reason, ErrKindSafetyBlocked)
		return c.fail(id, toolName, start, StateFailed, reason, ErrKindSafetyBlocked, ec, call)
	}

	if len(pipelineResult.Warnings) > 0 && c.overrideFn != nil {
		current, _ := c.tracker.Get(id)
		if !c.overrideFn(ctx, current, pipelineResult) {
			reason := "declined to override safety warnings"
			c.tracker.Complete(id, StateCancelled, nil, reason, ErrKindUserCancelled)
			return c.fail(id, toolName, start, StateCancelled, reason, ErrKindUserCancelled, ec, call)
		}
	}

	// Safety-driven parameter modifications. Results follow the decision's
	// check order, so a later check wins on conflict, deterministically.
	execParams := call.Parameters
	for _, r := range pipelineResult.Results {
		for k, v := range r.ParameterModifications {
			execParams[k] = v
		}
	}

	c.tracker.Transition(id, StateExecuting)
	c.emit(&audit.Event{
		EventType:   "pre_execution",
		Phase:       "execution",
		ExecutionID: id,
		ToolName:    toolName,
		AgentName:   call.AgentName,
		RequestID:   call.RequestID,
		UserID:      ec.UserID,
		SessionID:   ec.SessionID,
		Risk:        decision.Risk.String(),
	})

	result, err := c.invokeHandler(ctx, decision, execParams, handler)
	if err != nil {
		var reason, kind string
		if err == errHandlerTimeout {
			reason = fmt.Sprintf("%s timed out after %s", toolName, c.handlerTimeoutFor(decision))
			kind = ErrKindHandlerTimeout
		} else {
			reason = fmt.Sprintf("%s failed: %v (parameters: %v)", toolName, err, execParams)
			kind = ErrKindHandlerError
		}
		c.tracker.Complete(id, StateFailed, nil, reason, kind)
		return c.fail(id, toolName, start, StateFailed, reason, kind, ec, call)
	}

	c.tracker.Complete(id, StateSuccess, result, "", "")
	c.emit(&audit.Event{
		EventType:   "post_execution",
		Phase:       "execution",
		ExecutionID: id,
		ToolName:    toolName,
		AgentName:   call.AgentName,
		RequestID:   call.RequestID,
		UserID:      ec.UserID,
		SessionID:   ec.SessionID,
		Result:      "success",
	})

	return &ExecutionResult{
		ID:       id,
		ToolName: toolName,
		Success:  true,
		Result:   result,
		State:    StateSuccess,
		Duration: time.Since(start),
	}
}

var errHandlerTimeout = fmt.Errorf("handler timed out")

type handlerOutcome struct {
	result any
	err    error
}

// invokeHandler runs the handler under the decision's timeout. A handler
// that overruns is abandoned, not killed; its context is cancelled so a
// cooperative handler can stop.
func (c *Coordinator) invokeHandler(ctx context.Context, decision *policy.Decision, params map[string]any, handler Handler) (any, error) {
	timeout := c.handlerTimeoutFor(decision)
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- handlerOutcome{err: fmt.Errorf("handler panicked: %v", v)}
			}
		}()
		result, err := handler(hctx, params)
		done <- handlerOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-hctx.Done():
		return nil, errHandlerTimeout
	}
}

// handlerTimeoutFor reads the decision's timeout metadata (seconds),
// falling back to the coordinator default.
func (c *Coordinator) handlerTimeoutFor(decision *policy.Decision) time.Duration {
	if decision.Metadata != nil {
		switch v := decision.Metadata["timeout"].(type) {
		case int:
			if v > 0 {
				return time.Duration(v) * time.Second
			}
		case float64:
			if v > 0 {
				return time.Duration(v * float64(time.Second))
			}
		case time.Duration:
			if v > 0 {
				return v
			}
		}
	}
	return c.handlerTimeout
}

func (c *Coordinator) fail(id, toolName string, start time.Time, state ExecutionState, reason, kind string, ec policy.ExecutionContext, call *policy.ToolCall) *ExecutionResult {
	c.emit(&audit.Event{
		EventType:   "post_execution",
		Phase:       "execution",
		ExecutionID: id,
		ToolName:    toolName,
		AgentName:   call.AgentName,
		RequestID:   call.RequestID,
		UserID:      ec.UserID,
		SessionID:   ec.SessionID,
		Result:      state.String(),
		Error:       reason,
	})
	return &ExecutionResult{
		ID:        id,
		ToolName:  toolName,
		Success:   false,
		Error:     reason,
		ErrorKind: kind,
		State:     state,
		Duration:  time.Since(start),
	}
}

// emit writes an audit event if a sink is configured. Best-effort: the
// absence of a sink never alters control flow.
func (c *Coordinator) emit(event *audit.Event) {
	if c.sink == nil {
		return
	}
	event.Timestamp = time.Now()
	c.sink.Write(event)
}

func buildToolCall(toolName string, params map[string]any, ec policy.ExecutionContext) *policy.ToolCall {
	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}
	callCtx := map[string]any{}
	if ec.UserID != "" {
		callCtx["user_id"] = ec.UserID
	}
	if ec.SessionID != "" {
		callCtx["session_id"] = ec.SessionID
	}
	for k, v := range ec.Metadata {
		callCtx[k] = v
	}
	requestID := ec.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &policy.ToolCall{
		Name:       toolName,
		Parameters: copied,
		Context:    callCtx,
		AgentName:  ec.AgentName,
		RequestID:  requestID,
		Timestamp:  time.Now(),
	}
}
