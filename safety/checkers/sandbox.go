package checkers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/ridgeline-ai/gatehouse/safety"
)

// SandboxChecker verifies that every path-like parameter stays inside the
// allowed roots. Config "allowed_paths" is a list of root directories;
// when absent the working directory and the OS temp directory are allowed.
type SandboxChecker struct {
	roots []string
}

func NewSandboxChecker(cfg map[string]any) (*SandboxChecker, error) {
	roots := configStrings(cfg, "allowed_paths")
	if len(roots) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("sandbox_check: resolve working directory: %w", err)
		}
		roots = []string{cwd, os.TempDir()}
	}
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("sandbox_check: allowed path %q: %w", r, err)
		}
		abs = append(abs, a)
	}
	return &SandboxChecker{roots: abs}, nil
}

func (c *SandboxChecker) Name() string { return "sandbox_check" }

func (c *SandboxChecker) Check(_ context.Context, call *policy.ToolCall) (*safety.Result, error) {
	paths := policy.PathParameters(call.Parameters)
	if len(paths) == 0 {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusSkipped,
			Message:     "no path parameters to contain",
		}, nil
	}

	for _, p := range paths {
		if strings.Contains(p, "..") {
			return c.escape(p, "parent-directory traversal")
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return c.escape(p, "unresolvable path")
		}
		if !c.contained(abs) {
			return c.escape(p, "outside the sandbox roots")
		}
	}

	return &safety.Result{
		CheckerName: c.Name(),
		Status:      safety.StatusPassed,
		Message:     fmt.Sprintf("%d path(s) contained", len(paths)),
		Risk:        policy.RiskNone,
	}, nil
}

func (c *SandboxChecker) contained(abs string) bool {
	for _, root := range c.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (c *SandboxChecker) escape(path, why string) (*safety.Result, error) {
	return &safety.Result{
		CheckerName: c.Name(),
		Status:      safety.StatusFailed,
		Message:     fmt.Sprintf("path %q escapes the sandbox: %s", path, why),
		Risk:        policy.RiskHigh,
		Details:     map[string]any{"path": path, "allowed_paths": c.roots},
		Suggestions: []string{"use a path inside one of the allowed roots"},
	}, nil
}
