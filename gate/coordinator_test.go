package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ridgeline-ai/gatehouse/audit"
	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/ridgeline-ai/gatehouse/safety"
)

// recordingSink captures audit event types in write order.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Write(e *audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e.EventType)
}

func (s *recordingSink) Close() {}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// fixedChecker returns a canned result for coordinator tests.
type fixedChecker struct {
	result *safety.Result
}

func (f *fixedChecker) Name() string { return f.result.CheckerName }

func (f *fixedChecker) Check(context.Context, *policy.ToolCall) (*safety.Result, error) {
	return f.result, nil
}

func checkerRegistry(results ...*safety.Result) *safety.Registry {
	reg := safety.NewRegistry()
	for _, r := range results {
		r := r
		reg.Register(r.CheckerName, func(map[string]any) (safety.Checker, error) {
			return &fixedChecker{result: r}, nil
		})
	}
	return reg
}

func ruleWithChecks(t *testing.T, pattern, supervision string, kinds ...string) policy.Rule {
	t.Helper()
	cfg := policy.RuleConfig{Pattern: pattern, Supervision: supervision, Risk: "low"}
	for _, k := range kinds {
		cfg.SafetyChecks = append(cfg.SafetyChecks, policy.CheckConfig{Name: k})
	}
	r, err := policy.NewRule("test_rule_"+pattern, cfg)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	return r
}

type coordinatorFixture struct {
	coordinator *Coordinator
	sink        *recordingSink
}

func newFixture(t *testing.T, cfg Config, rules ...policy.Rule) *coordinatorFixture {
	t.Helper()
	sink := &recordingSink{}
	if cfg.Engine == nil {
		cfg.Engine = policy.NewEngine(policy.EngineConfig{Rules: rules})
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = safety.NewPipeline(safety.NewRegistry(), nil)
	}
	cfg.Sink = sink
	return &coordinatorFixture{coordinator: NewCoordinator(cfg), sink: sink}
}

func okHandler(result any) Handler {
	return func(context.Context, map[string]any) (any, error) { return result, nil }
}

func TestExecute_AutomaticSuccess(t *testing.T) {
	fx := newFixture(t, Config{})
	res := fx.coordinator.Execute(context.Background(), "read_file",
		map[string]any{"path": "a.txt"}, policy.ExecutionContext{AgentName: "planner"}, okHandler("contents"))

	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	if res.State != StateSuccess || res.Result != "contents" {
		t.Fatalf("unexpected result: %+v", res)
	}

	want := []string{"policy_evaluated", "pre_execution", "post_execution"}
	got := fx.sink.types()
	if len(got) != len(want) {
		t.Fatalf("audit events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit event %d: got %s, want %s", i, got[i], want[i])
		}
	}

	hist := fx.coordinator.Tracker().History(0)
	if len(hist) != 1 || hist[0].State != StateSuccess {
		t.Fatalf("history: %+v", hist)
	}
}

func TestExecute_PolicyDenied(t *testing.T) {
	deny, err := policy.NewRule("no_secrets", policy.RuleConfig{
		Pattern: "read_secrets", Supervision: "deny", Risk: "critical",
	})
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}

	called := false
	fx := newFixture(t, Config{}, deny)
	res := fx.coordinator.Execute(context.Background(), "read_secrets", nil, policy.ExecutionContext{},
		func(context.Context, map[string]any) (any, error) {
			called = true
			return nil, nil
		})

	if res.Success {
		t.Fatalf("expected denial")
	}
	if res.State != StateBlocked || res.ErrorKind != ErrKindPolicyDenied {
		t.Fatalf("unexpected result: %+v", res)
	}
	if called {
		t.Fatalf("handler must not run for a denied call")
	}

	got := fx.sink.types()
	if len(got) != 2 || got[0] != "policy_evaluated" || got[1] != "post_execution" {
		t.Fatalf("audit events: %v", got)
	}
}

func TestExecute_ConfirmationDeclined(t *testing.T) {
	var tracker *Tracker
	tracker = NewTracker(TrackerConfig{Callbacks: Callbacks{
		OnConfirmationRequired: func(info ExecutionInfo, _ *policy.Decision) {
			tracker.Cancel(info.ID)
		},
	}})

	called := false
	fx := newFixture(t, Config{Tracker: tracker})
	res := fx.coordinator.Execute(context.Background(), "delete_file",
		map[string]any{"path": "a.txt"}, policy.ExecutionContext{},
		func(context.Context, map[string]any) (any, error) {
			called = true
			return nil, nil
		})

	if res.Success {
		t.Fatalf("declined confirmation must fail the call")
	}
	if res.State != StateCancelled || res.ErrorKind != ErrKindUserCancelled {
		t.Fatalf("unexpected result: %+v", res)
	}
	if called {
		t.Fatalf("handler must not run after a declined confirmation")
	}

	got := fx.sink.types()
	want := []string{"policy_evaluated", "confirmation_resolved", "post_execution"}
	if len(got) != len(want) {
		t.Fatalf("audit events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit event %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestExecute_ConfirmationAccepted(t *testing.T) {
	var tracker *Tracker
	tracker = NewTracker(TrackerConfig{Callbacks: Callbacks{
		OnConfirmationRequired: func(info ExecutionInfo, _ *policy.Decision) {
			tracker.Confirm(info.ID)
		},
	}})

	fx := newFixture(t, Config{Tracker: tracker})
	res := fx.coordinator.Execute(context.Background(), "delete_file",
		map[string]any{"path": "a.txt"}, policy.ExecutionContext{}, okHandler("deleted"))

	if !res.Success || res.Result != "deleted" {
		t.Fatalf("confirmed call should succeed: %+v", res)
	}
}

func TestExecute_ConfirmationTimeout(t *testing.T) {
	// No collaborator resolves the gate; the short timeout cancels the call.
	fx := newFixture(t, Config{ConfirmationTimeout: 20 * time.Millisecond})
	res := fx.coordinator.Execute(context.Background(), "delete_file", nil, policy.ExecutionContext{},
		okHandler(nil))

	if res.Success || res.State != StateCancelled {
		t.Fatalf("unresolved confirmation should cancel: %+v", res)
	}
}

func TestExecute_SafetyBlocked(t *testing.T) {
	reg := checkerRegistry(&safety.Result{
		CheckerName: "hard_fail",
		Status:      safety.StatusFailed,
		Risk:        policy.RiskCritical,
		Message:     "forbidden target",
	})
	rule := ruleWithChecks(t, "write_*", "automatic", "hard_fail")

	fx := newFixture(t, Config{Pipeline: safety.NewPipeline(reg, nil),
		Engine: policy.NewEngine(policy.EngineConfig{Rules: []policy.Rule{rule}})})
	res := fx.coordinator.Execute(context.Background(), "write_file", nil, policy.ExecutionContext{}, okHandler(nil))

	if res.Success {
		t.Fatalf("blocking safety failure must abort")
	}
	if res.State != StateFailed || res.ErrorKind != ErrKindSafetyBlocked {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Error, "forbidden target") {
		t.Fatalf("error should carry the blocking issue: %q", res.Error)
	}
}

func TestExecute_OverrideGate(t *testing.T) {
	reg := checkerRegistry(&safety.Result{
		CheckerName: "soft_fail",
		Status:      safety.StatusFailed,
		CanOverride: true,
		Risk:        policy.RiskMedium,
		Message:     "low disk space",
	})
	rule := ruleWithChecks(t, "write_*", "automatic", "soft_fail")
	engine := policy.NewEngine(policy.EngineConfig{Rules: []policy.Rule{rule}})

	declined := newFixture(t, Config{
		Engine:   engine,
		Pipeline: safety.NewPipeline(reg, nil),
		OverrideHandler: func(context.Context, ExecutionInfo, *safety.PipelineResult) bool {
			return false
		},
	})
	res := declined.coordinator.Execute(context.Background(), "write_file", nil, policy.ExecutionContext{}, okHandler(nil))
	if res.Success || res.State != StateCancelled || res.ErrorKind != ErrKindUserCancelled {
		t.Fatalf("declined override should cancel: %+v", res)
	}

	accepted := newFixture(t, Config{
		Engine:   engine,
		Pipeline: safety.NewPipeline(reg, nil),
		OverrideHandler: func(_ context.Context, _ ExecutionInfo, pr *safety.PipelineResult) bool {
			return pr.IsSafe()
		},
	})
	res = accepted.coordinator.Execute(context.Background(), "write_file", nil, policy.ExecutionContext{}, okHandler("done"))
	if !res.Success {
		t.Fatalf("accepted override should proceed: %+v", res)
	}
}

func TestExecute_ParameterModifications(t *testing.T) {
	reg := checkerRegistry(&safety.Result{
		CheckerName:            "backup",
		Status:                 safety.StatusPassed,
		ParameterModifications: map[string]any{"backup_path": "/backups/a.txt"},
	})
	rule := ruleWithChecks(t, "write_*", "automatic", "backup")

	var seen map[string]any
	fx := newFixture(t, Config{Pipeline: safety.NewPipeline(reg, nil),
		Engine: policy.NewEngine(policy.EngineConfig{Rules: []policy.Rule{rule}})})
	res := fx.coordinator.Execute(context.Background(), "write_file",
		map[string]any{"path": "a.txt"}, policy.ExecutionContext{},
		func(_ context.Context, params map[string]any) (any, error) {
			seen = params
			return nil, nil
		})

	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	if seen["backup_path"] != "/backups/a.txt" {
		t.Fatalf("handler should see the modified parameters: %v", seen)
	}
	if seen["path"] != "a.txt" {
		t.Fatalf("original parameters lost: %v", seen)
	}
}

func TestExecute_HandlerError(t *testing.T) {
	fx := newFixture(t, Config{})
	res := fx.coordinator.Execute(context.Background(), "read_file", nil, policy.ExecutionContext{},
		func(context.Context, map[string]any) (any, error) {
			return nil, fmt.Errorf("file not found")
		})

	if res.Success || res.ErrorKind != ErrKindHandlerError {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Error, "file not found") {
		t.Fatalf("error should carry the handler failure: %q", res.Error)
	}
}

func TestExecute_HandlerTimeout(t *testing.T) {
	fx := newFixture(t, Config{HandlerTimeout: 20 * time.Millisecond})
	res := fx.coordinator.Execute(context.Background(), "read_file", nil, policy.ExecutionContext{},
		func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-time.After(time.Second):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})

	if res.Success || res.ErrorKind != ErrKindHandlerTimeout {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.State != StateFailed {
		t.Fatalf("timed out call should fail: %+v", res)
	}
}

func TestExecute_HandlerTimeoutFromMetadata(t *testing.T) {
	rule, err := policy.NewRule("slow_ok", policy.RuleConfig{
		Pattern: "slow_tool", Supervision: "automatic", Risk: "low",
	})
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	fx := newFixture(t, Config{HandlerTimeout: 10 * time.Millisecond}, rule)

	// The decision carries no timeout metadata here, so the coordinator
	// default applies; the metadata path is covered by handlerTimeoutFor.
	c := fx.coordinator
	if got := c.handlerTimeoutFor(&policy.Decision{Metadata: map[string]any{"timeout": 2}}); got != 2*time.Second {
		t.Fatalf("int seconds: %v", got)
	}
	if got := c.handlerTimeoutFor(&policy.Decision{Metadata: map[string]any{"timeout": 1.5}}); got != 1500*time.Millisecond {
		t.Fatalf("float seconds: %v", got)
	}
	if got := c.handlerTimeoutFor(&policy.Decision{Metadata: map[string]any{"timeout": 3 * time.Second}}); got != 3*time.Second {
		t.Fatalf("duration: %v", got)
	}
	if got := c.handlerTimeoutFor(&policy.Decision{}); got != 10*time.Millisecond {
		t.Fatalf("default: %v", got)
	}
}

func TestExecute_HandlerPanicIsContained(t *testing.T) {
	fx := newFixture(t, Config{})
	res := fx.coordinator.Execute(context.Background(), "read_file", nil, policy.ExecutionContext{},
		func(context.Context, map[string]any) (any, error) {
			panic("handler exploded")
		})

	if res.Success || res.ErrorKind != ErrKindHandlerError {
		t.Fatalf("panic should surface as a handler error: %+v", res)
	}
	if !strings.Contains(res.Error, "handler panicked") {
		t.Fatalf("error should mention the panic: %q", res.Error)
	}
}

func TestExecute_ConcurrentConfirmationsAreIndependent(t *testing.T) {
	ids := make(chan string, 2)
	var tracker *Tracker
	tracker = NewTracker(TrackerConfig{Callbacks: Callbacks{
		OnConfirmationRequired: func(info ExecutionInfo, _ *policy.Decision) {
			ids <- info.ID
		},
	}})

	fx := newFixture(t, Config{Tracker: tracker})
	results := make(chan *ExecutionResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- fx.coordinator.Execute(context.Background(), "delete_file", nil,
				policy.ExecutionContext{}, okHandler("ok"))
		}()
	}

	// Resolve the second gate first; neither call may block the other.
	first := <-ids
	second := <-ids
	tracker.Confirm(second)
	tracker.Confirm(first)

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			if !res.Success {
				t.Fatalf("confirmed call failed: %+v", res)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("execution did not finish")
		}
	}
}

func TestEvaluate_Preview(t *testing.T) {
	fx := newFixture(t, Config{})
	d := fx.coordinator.Evaluate(&policy.ToolCall{Name: "delete_file"})
	if !d.RequiresConfirmation {
		t.Fatalf("preview should reflect the decision: %+v", d)
	}
	if len(fx.coordinator.Tracker().Active()) != 0 {
		t.Fatalf("preview must not create an execution")
	}
}
