package checkers

import (
	"context"
	"fmt"

	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/ridgeline-ai/gatehouse/safety"
)

// DoubleConfirmationChecker forces a second gate on destructive calls: it
// reports an overridable failure unless the call context carries
// confirmed_twice=true, so the coordinator's override gate becomes the
// second confirmation.
type DoubleConfirmationChecker struct{}

func NewDoubleConfirmationChecker(_ map[string]any) (*DoubleConfirmationChecker, error) {
	return &DoubleConfirmationChecker{}, nil
}

func (c *DoubleConfirmationChecker) Name() string { return "double_confirmation" }

func (c *DoubleConfirmationChecker) Check(_ context.Context, call *policy.ToolCall) (*safety.Result, error) {
	if confirmed, ok := call.Context["confirmed_twice"].(bool); ok && confirmed {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusPassed,
			Message:     "second confirmation already given",
			Risk:        policy.RiskNone,
		}, nil
	}

	return &safety.Result{
		CheckerName: c.Name(),
		Status:      safety.StatusFailed,
		Message:     fmt.Sprintf("destructive tool %q requires a second confirmation", call.Name),
		Risk:        policy.RiskHigh,
		CanOverride: true,
		Suggestions: []string{"confirm the override to proceed"},
	}, nil
}
