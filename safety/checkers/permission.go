package checkers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/ridgeline-ai/gatehouse/safety"
	"golang.org/x/sys/unix"
)

// PermissionChecker verifies the process may actually write the target
// path, and warns when running with root privileges.
type PermissionChecker struct{}

func NewPermissionChecker(_ map[string]any) (*PermissionChecker, error) {
	return &PermissionChecker{}, nil
}

func (c *PermissionChecker) Name() string { return "permission_check" }

func (c *PermissionChecker) Check(_ context.Context, call *policy.ToolCall) (*safety.Result, error) {
	paths := policy.PathParameters(call.Parameters)
	if len(paths) == 0 {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusSkipped,
			Message:     "no path parameters to check",
		}, nil
	}

	target := paths[0]
	probe := target
	if _, err := os.Stat(target); os.IsNotExist(err) {
		// New file: writability is decided by the parent directory.
		probe = filepath.Dir(target)
	}

	if err := unix.Access(probe, unix.W_OK); err != nil {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusFailed,
			Message:     fmt.Sprintf("%q is not writable: %v", probe, err),
			Risk:        policy.RiskMedium,
			Details:     map[string]any{"path": target},
			CanOverride: true,
			Suggestions: []string{"adjust file permissions or choose a writable location"},
		}, nil
	}

	if os.Geteuid() == 0 {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusWarning,
			Message:     "running with root privileges; writes are unrestricted",
			Risk:        policy.RiskMedium,
			CanOverride: true,
		}, nil
	}

	return &safety.Result{
		CheckerName: c.Name(),
		Status:      safety.StatusPassed,
		Message:     fmt.Sprintf("%q is writable", probe),
		Risk:        policy.RiskNone,
	}, nil
}
