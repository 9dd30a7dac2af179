package checkers

import (
	"context"
	"fmt"

	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/ridgeline-ai/gatehouse/safety"
)

// RateLimitChecker enforces a sliding-window call budget per tool, fed by
// the execution tracker's recent history. Config: "max_calls" (default 10)
// and "window_seconds" (default 60).
type RateLimitChecker struct {
	log           CallLog
	maxCalls      int
	windowSeconds int
}

func NewRateLimitChecker(cfg map[string]any, log CallLog) (*RateLimitChecker, error) {
	if log == nil {
		return nil, fmt.Errorf("rate_limit: no call log configured")
	}
	return &RateLimitChecker{
		log:           log,
		maxCalls:      configInt(cfg, "max_calls", 10),
		windowSeconds: configInt(cfg, "window_seconds", 60),
	}, nil
}

func (c *RateLimitChecker) Name() string { return "rate_limit" }

func (c *RateLimitChecker) Check(_ context.Context, call *policy.ToolCall) (*safety.Result, error) {
	count := c.log.CountRecentCalls(call.Name, c.windowSeconds)
	details := map[string]any{
		"recent_calls":   count,
		"max_calls":      c.maxCalls,
		"window_seconds": c.windowSeconds,
	}

	if count >= c.maxCalls {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusFailed,
			Message:     fmt.Sprintf("rate limit exceeded: %d/%d calls to %q in %ds window", count, c.maxCalls, call.Name, c.windowSeconds),
			Risk:        policy.RiskMedium,
			Details:     details,
			CanOverride: true,
			Suggestions: []string{"wait for the window to pass"},
		}, nil
	}

	return &safety.Result{
		CheckerName: c.Name(),
		Status:      safety.StatusPassed,
		Message:     fmt.Sprintf("%d/%d calls in window", count, c.maxCalls),
		Risk:        policy.RiskNone,
		Details:     details,
	}, nil
}
