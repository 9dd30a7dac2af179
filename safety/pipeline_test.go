package safety

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ridgeline-ai/gatehouse/policy"
)

// stubChecker returns a fixed result, or misbehaves on demand.
type stubChecker struct {
	name   string
	result *Result
	err    error
	panics bool
	delay  time.Duration
}

func (s *stubChecker) Name() string { return s.name }

func (s *stubChecker) Check(ctx context.Context, call *policy.ToolCall) (*Result, error) {
	if s.panics {
		panic("stub exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

func stubRegistry(checkers ...*stubChecker) *Registry {
	reg := NewRegistry()
	for _, c := range checkers {
		c := c
		reg.Register(c.name, func(map[string]any) (Checker, error) { return c, nil })
	}
	return reg
}

func specs(kinds ...string) []policy.SafetyCheck {
	out := make([]policy.SafetyCheck, len(kinds))
	for i, k := range kinds {
		out[i] = policy.SafetyCheck{Name: k, Kind: k, Required: true, Timeout: time.Second}
	}
	return out
}

func runPipeline(t *testing.T, reg *Registry, checks []policy.SafetyCheck) *PipelineResult {
	t.Helper()
	p := NewPipeline(reg, nil)
	return p.Run(context.Background(), &policy.ToolCall{Name: "write_file"}, checks)
}

func TestPipeline_AllPassed(t *testing.T) {
	reg := stubRegistry(
		&stubChecker{name: "a", result: &Result{CheckerName: "a", Status: StatusPassed, Risk: policy.RiskLow}},
		&stubChecker{name: "b", result: &Result{CheckerName: "b", Status: StatusPassed, Risk: policy.RiskLow}},
	)
	pr := runPipeline(t, reg, specs("a", "b"))

	if pr.OverallStatus != StatusPassed {
		t.Fatalf("expected passed, got %v", pr.OverallStatus)
	}
	if !pr.IsSafe() {
		t.Fatalf("expected safe")
	}
	if pr.RiskScore != 0.25 {
		t.Fatalf("two low-risk checks should average 0.25, got %v", pr.RiskScore)
	}
}

func TestPipeline_BlockingFailure(t *testing.T) {
	reg := stubRegistry(
		&stubChecker{name: "a", result: &Result{CheckerName: "a", Status: StatusPassed, Risk: policy.RiskLow}},
		&stubChecker{name: "b", result: &Result{CheckerName: "b", Status: StatusFailed, Risk: policy.RiskCritical, Message: "destructive command"}},
	)
	pr := runPipeline(t, reg, specs("a", "b"))

	if pr.OverallStatus != StatusFailed {
		t.Fatalf("expected failed, got %v", pr.OverallStatus)
	}
	if pr.IsSafe() {
		t.Fatalf("non-overridable failure must block")
	}
	if len(pr.BlockingIssues) != 1 || !strings.Contains(pr.BlockingIssues[0], "destructive command") {
		t.Fatalf("blocking issues: %v", pr.BlockingIssues)
	}
}

func TestPipeline_OverridableFailureIsWarning(t *testing.T) {
	reg := stubRegistry(
		&stubChecker{name: "a", result: &Result{CheckerName: "a", Status: StatusWarning, Risk: policy.RiskMedium, Message: "looks off"}},
		&stubChecker{name: "b", result: &Result{CheckerName: "b", Status: StatusFailed, CanOverride: true, Risk: policy.RiskMedium, Message: "low disk space"}},
	)
	pr := runPipeline(t, reg, specs("a", "b"))

	if pr.OverallStatus != StatusWarning {
		t.Fatalf("expected warning, got %v", pr.OverallStatus)
	}
	if !pr.IsSafe() {
		t.Fatalf("overridable failure alone must not block")
	}
	if len(pr.BlockingIssues) != 0 {
		t.Fatalf("unexpected blocking issues: %v", pr.BlockingIssues)
	}
	if len(pr.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", pr.Warnings)
	}
	found := false
	for _, w := range pr.Warnings {
		if strings.HasPrefix(w, "[Overridable] ") {
			found = true
		}
	}
	if !found {
		t.Fatalf("overridable failure should be tagged in warnings: %v", pr.Warnings)
	}
}

func TestPipeline_CheckerErrorDoesNotBlock(t *testing.T) {
	reg := stubRegistry(
		&stubChecker{name: "a", result: &Result{CheckerName: "a", Status: StatusPassed, Risk: policy.RiskNone}},
		&stubChecker{name: "b", err: fmt.Errorf("backend unreachable")},
	)
	pr := runPipeline(t, reg, specs("a", "b"))

	if pr.OverallStatus != StatusError {
		t.Fatalf("expected error status, got %v", pr.OverallStatus)
	}
	if !pr.IsSafe() {
		t.Fatalf("a returned checker error must not block on its own")
	}
	if len(pr.Results) != 2 {
		t.Fatalf("error outcome should still produce a result, got %d", len(pr.Results))
	}
}

func TestPipeline_PanicBlocks(t *testing.T) {
	reg := stubRegistry(
		&stubChecker{name: "a", result: &Result{CheckerName: "a", Status: StatusPassed, Risk: policy.RiskNone}},
		&stubChecker{name: "b", panics: true},
	)
	pr := runPipeline(t, reg, specs("a", "b"))

	if pr.OverallStatus != StatusError {
		t.Fatalf("expected error status, got %v", pr.OverallStatus)
	}
	if pr.IsSafe() {
		t.Fatalf("a panicked checker must block")
	}
	if len(pr.BlockingIssues) != 1 || !strings.Contains(pr.BlockingIssues[0], "check crashed") {
		t.Fatalf("blocking issues: %v", pr.BlockingIssues)
	}
	// The panicked check contributes no Result but still counts toward the
	// risk average at medium weight: (0 + 0.5) / 2.
	if len(pr.Results) != 1 {
		t.Fatalf("panicked check should not appear in results, got %d", len(pr.Results))
	}
	if pr.RiskScore != 0.25 {
		t.Fatalf("risk score: got %v, want 0.25", pr.RiskScore)
	}
}

func TestPipeline_PanicOutranksFailure(t *testing.T) {
	reg := stubRegistry(
		&stubChecker{name: "a", result: &Result{CheckerName: "a", Status: StatusFailed, Risk: policy.RiskCritical, Message: "destructive command"}},
		&stubChecker{name: "b", panics: true},
	)
	pr := runPipeline(t, reg, specs("a", "b"))

	// A crash forces the overall status to error even alongside a
	// blocking failure; both still block.
	if pr.OverallStatus != StatusError {
		t.Fatalf("expected error status, got %v", pr.OverallStatus)
	}
	if pr.IsSafe() {
		t.Fatalf("expected blocked")
	}
	if len(pr.BlockingIssues) != 2 {
		t.Fatalf("blocking issues: %v", pr.BlockingIssues)
	}
}

func TestPipeline_ResultsFollowCheckOrder(t *testing.T) {
	reg := stubRegistry(
		&stubChecker{name: "a", delay: 50 * time.Millisecond,
			result: &Result{CheckerName: "a", Status: StatusPassed, Risk: policy.RiskLow}},
		&stubChecker{name: "b", result: &Result{CheckerName: "b", Status: StatusPassed, Risk: policy.RiskLow}},
		&stubChecker{name: "c", result: &Result{CheckerName: "c", Status: StatusPassed, Risk: policy.RiskLow}},
	)
	pr := runPipeline(t, reg, specs("a", "b", "c"))

	// "a" finishes last but must still come first.
	want := []string{"a", "b", "c"}
	if len(pr.Results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(pr.Results))
	}
	for i, name := range want {
		if pr.Results[i].CheckerName != name {
			t.Fatalf("results out of order: position %d is %q, want %q", i, pr.Results[i].CheckerName, name)
		}
	}
}

func TestPipeline_OptionalCheckerErrorIgnored(t *testing.T) {
	reg := stubRegistry(
		&stubChecker{name: "a", result: &Result{CheckerName: "a", Status: StatusPassed, Risk: policy.RiskNone}},
		&stubChecker{name: "b", err: fmt.Errorf("backend unreachable")},
	)
	checks := specs("a", "b")
	checks[1].Required = false
	pr := runPipeline(t, reg, checks)

	if pr.OverallStatus != StatusPassed {
		t.Fatalf("optional checker error must not raise the status, got %v", pr.OverallStatus)
	}
	if !pr.IsSafe() {
		t.Fatalf("expected safe")
	}
	if len(pr.Results) != 2 {
		t.Fatalf("the error outcome should still be recorded, got %d results", len(pr.Results))
	}
}

func TestPipeline_TimeoutBecomesError(t *testing.T) {
	slow := &stubChecker{name: "slow", delay: time.Second,
		result: &Result{CheckerName: "slow", Status: StatusPassed}}
	reg := stubRegistry(slow)
	checks := []policy.SafetyCheck{{Name: "slow", Kind: "slow", Required: true, Timeout: 30 * time.Millisecond}}

	pr := runPipeline(t, reg, checks)
	if pr.OverallStatus != StatusError {
		t.Fatalf("expected error status, got %v", pr.OverallStatus)
	}
	if len(pr.Results) != 1 || !strings.Contains(pr.Results[0].Message, "timed out") {
		t.Fatalf("timeout result: %+v", pr.Results)
	}
	if !pr.IsSafe() {
		t.Fatalf("timeout must not block on its own")
	}
}

func TestPipeline_UnknownKindDropped(t *testing.T) {
	reg := stubRegistry(
		&stubChecker{name: "a", result: &Result{CheckerName: "a", Status: StatusPassed, Risk: policy.RiskNone}},
	)
	pr := runPipeline(t, reg, specs("a", "nonexistent"))

	if len(pr.Results) != 1 {
		t.Fatalf("unknown kind should be dropped, got %d results", len(pr.Results))
	}
	if pr.OverallStatus != StatusPassed {
		t.Fatalf("expected passed, got %v", pr.OverallStatus)
	}
}

func TestPipeline_NoChecks(t *testing.T) {
	pr := runPipeline(t, NewRegistry(), nil)
	if pr.OverallStatus != StatusPassed || !pr.IsSafe() || pr.RiskScore != 0 {
		t.Fatalf("empty pipeline should pass with zero risk: %+v", pr)
	}
}

func TestPipeline_RiskScoreAveraging(t *testing.T) {
	reg := stubRegistry(
		&stubChecker{name: "a", result: &Result{CheckerName: "a", Status: StatusPassed, Risk: policy.RiskCritical}},
		&stubChecker{name: "b", result: &Result{CheckerName: "b", Status: StatusPassed, Risk: policy.RiskCritical}},
	)
	pr := runPipeline(t, reg, specs("a", "b"))
	if pr.RiskScore != 1.0 {
		t.Fatalf("all-critical should average 1.0, got %v", pr.RiskScore)
	}
	if pr.RiskBand() != "Critical Risk" {
		t.Fatalf("band: %s", pr.RiskBand())
	}
}

func TestRiskBand_Thresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0.0, "Very Low Risk"},
		{0.19, "Very Low Risk"},
		{0.2, "Low Risk"},
		{0.4, "Moderate Risk"},
		{0.6, "High Risk"},
		{0.8, "Critical Risk"},
	}
	for _, tc := range cases {
		pr := &PipelineResult{RiskScore: tc.score}
		if got := pr.RiskBand(); got != tc.want {
			t.Fatalf("RiskBand(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func BenchmarkPipeline_Run(b *testing.B) {
	reg := stubRegistry(
		&stubChecker{name: "a", result: &Result{CheckerName: "a", Status: StatusPassed, Risk: policy.RiskLow}},
		&stubChecker{name: "b", result: &Result{CheckerName: "b", Status: StatusPassed, Risk: policy.RiskLow}},
		&stubChecker{name: "c", result: &Result{CheckerName: "c", Status: StatusWarning, Risk: policy.RiskMedium, Message: "w"}},
	)
	p := NewPipeline(reg, nil)
	call := &policy.ToolCall{Name: "write_file"}
	checks := specs("a", "b", "c")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Run(context.Background(), call, checks)
	}
}
