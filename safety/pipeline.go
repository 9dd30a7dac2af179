package safety

import (
	"context"
	"fmt"

	"github.com/ridgeline-ai/gatehouse/policy"
	"go.uber.org/zap"
)

// PipelineResult is the aggregated outcome of one pipeline run.
type PipelineResult struct {
	Results        []*Result
	OverallStatus  Status
	RiskScore      float64
	BlockingIssues []string
	Warnings       []string
}

// IsSafe reports whether execution may proceed.
func (pr *PipelineResult) IsSafe() bool {
	return pr.OverallStatus != StatusFailed && len(pr.BlockingIssues) == 0
}

// RiskBand renders the risk score as a human-readable band label.
func (pr *PipelineResult) RiskBand() string {
	switch {
	case pr.RiskScore < 0.2:
		return "Very Low Risk"
	case pr.RiskScore < 0.4:
		return "Low Risk"
	case pr.RiskScore < 0.6:
		return "Moderate Risk"
	case pr.RiskScore < 0.8:
		return "High Risk"
	default:
		return "Critical Risk"
	}
}

// Pipeline fans out the checks selected by a policy decision to their
// checkers concurrently, each under its own timeout, and aggregates the
// results.
type Pipeline struct {
	registry *Registry
	logger   *zap.Logger
}

// NewPipeline creates a pipeline over the given checker registry.
func NewPipeline(registry *Registry, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{registry: registry, logger: logger}
}

// checkOutcome carries one check's result or failure mode back to the
// aggregation goroutine. idx is the check's position in the runnable
// slice, so outcomes can be slotted back into submission order.
type checkOutcome struct {
	idx      int
	spec     policy.SafetyCheck
	result   *Result
	panicked bool
	panicMsg string
}

// Run executes every known check concurrently and aggregates the outcomes.
// Checks referencing an unregistered kind are dropped, as if no such check
// were configured. Results keep the order the checks were given, whatever
// order the checkers finish in. Overall wall time is bounded by the largest
// per-check timeout, not their sum.
func (p *Pipeline) Run(ctx context.Context, call *policy.ToolCall, checks []policy.SafetyCheck) *PipelineResult {
	runnable := make([]policy.SafetyCheck, 0, len(checks))
	for _, spec := range checks {
		if !p.registry.Has(spec.Kind) {
			p.logger.Debug("dropping unknown safety check",
				zap.String("check", spec.Name),
				zap.String("kind", spec.Kind),
			)
			continue
		}
		runnable = append(runnable, spec)
	}

	ch := make(chan checkOutcome, len(runnable))
	for i, spec := range runnable {
		go p.runCheck(ctx, call, i, spec, ch)
	}

	outcomes := make([]checkOutcome, len(runnable))
	for range runnable {
		out := <-ch
		outcomes[out.idx] = out
	}

	return p.aggregate(outcomes)
}

// runCheck executes one check under its own timeout. A checker that times
// out or returns an error is converted to an ERROR result; a checker that
// panics is reported as a panic and handled at aggregation.
func (p *Pipeline) runCheck(ctx context.Context, call *policy.ToolCall, idx int, spec policy.SafetyCheck, ch chan<- checkOutcome) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = policy.DefaultCheckTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	checker, err := p.registry.New(spec.Kind, spec.Config)
	if err != nil {
		ch <- checkOutcome{idx: idx, spec: spec, result: errorResult(spec, fmt.Sprintf("checker construction failed: %v", err))}
		return
	}

	done := make(chan checkOutcome, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- checkOutcome{spec: spec, panicked: true, panicMsg: fmt.Sprint(v)}
			}
		}()
		result, err := checker.Check(cctx, call)
		if err != nil {
			done <- checkOutcome{spec: spec, result: errorResult(spec, fmt.Sprintf("checker error: %v", err))}
			return
		}
		if result == nil {
			result = &Result{Status: StatusSkipped, Message: "checker returned no result"}
		}
		if result.CheckerName == "" {
			result.CheckerName = spec.Name
		}
		done <- checkOutcome{spec: spec, result: result}
	}()

	select {
	case out := <-done:
		out.idx = idx
		ch <- out
	case <-cctx.Done():
		// The checker goroutine is abandoned; its late send lands in the
		// buffered channel and is never read.
		p.logger.Warn("safety check timed out",
			zap.String("check", spec.Name),
			zap.Duration("timeout", timeout),
		)
		ch <- checkOutcome{idx: idx, spec: spec, result: errorResult(spec, fmt.Sprintf("timed out after %s", timeout))}
	}
}

// aggregate folds check outcomes into a single result. Order-independent.
//
// A checker-reported StatusError (including timeouts and returned errors)
// merges through the normal status path and does not by itself block;
// for a check configured as not required, it is recorded but does not
// raise the overall status at all. A panicked checker is the harder
// failure: it records a blocking issue and forces the overall status to
// StatusError regardless of what the other checks reported. The
// asymmetry is deliberate.
func (p *Pipeline) aggregate(outcomes []checkOutcome) *PipelineResult {
	pr := &PipelineResult{OverallStatus: StatusPassed}
	var weightSum float64
	var panicked bool

	for _, out := range outcomes {
		if out.panicked {
			p.logger.Error("safety check panicked",
				zap.String("check", out.spec.Name),
				zap.String("panic", out.panicMsg),
			)
			pr.BlockingIssues = append(pr.BlockingIssues,
				fmt.Sprintf("%s: check crashed: %s", out.spec.Name, out.panicMsg))
			panicked = true
			weightSum += 0.5
			continue
		}

		r := out.result
		pr.Results = append(pr.Results, r)
		weightSum += r.Risk.Weight()

		switch {
		case r.Status == StatusWarning:
			pr.OverallStatus = merge(pr.OverallStatus, StatusWarning)
			pr.Warnings = append(pr.Warnings, r.Message)
		case r.Status == StatusFailed && !r.CanOverride:
			pr.OverallStatus = merge(pr.OverallStatus, StatusFailed)
			pr.BlockingIssues = append(pr.BlockingIssues,
				fmt.Sprintf("%s: %s", r.CheckerName, r.Message))
		case r.Status == StatusFailed && r.CanOverride:
			pr.OverallStatus = merge(pr.OverallStatus, StatusWarning)
			pr.Warnings = append(pr.Warnings, "[Overridable] "+r.Message)
		case r.Status == StatusError && out.spec.Required:
			pr.OverallStatus = merge(pr.OverallStatus, StatusError)
		}
	}

	if panicked {
		pr.OverallStatus = StatusError
	}

	if len(outcomes) > 0 {
		pr.RiskScore = weightSum / float64(len(outcomes))
	}
	return pr
}

func merge(current, incoming Status) Status {
	if incoming.severity() > current.severity() {
		return incoming
	}
	return current
}

func errorResult(spec policy.SafetyCheck, msg string) *Result {
	return &Result{
		CheckerName: spec.Name,
		Status:      StatusError,
		Message:     msg,
		Risk:        policy.RiskMedium,
	}
}
