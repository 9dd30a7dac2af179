package checkers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/ridgeline-ai/gatehouse/safety"
)

// Pre-compiled patterns for commands that are never safe to run.
var destructiveCommandPatterns = []struct {
	re     *regexp.Regexp
	detail string
}{
	{regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)[a-z]*\s+(/|~|\$HOME)\s*($|;|&)`), "recursive force-delete of a root directory"},
	{regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`), "filesystem format"},
	{regexp.MustCompile(`(?i)\bdd\s+[^|;]*of=/dev/`), "raw write to a block device"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]\b`), "redirect onto a block device"},
	{regexp.MustCompile(`(?i)\bchmod\s+(-R\s+)?777\s+/\s*($|;|&)`), "world-writable root filesystem"},
	{regexp.MustCompile(`(?i)\b(shutdown|reboot|halt|poweroff)\b`), "system power control"},
}

// Pre-compiled patterns for commands that warrant a warning.
var suspiciousCommandPatterns = []struct {
	re     *regexp.Regexp
	detail string
}{
	{regexp.MustCompile(`(?i)\b(curl|wget)\b[^|;]*\|\s*(bash|sh|zsh)\b`), "piping a download into a shell"},
	{regexp.MustCompile(`(?i)\bsudo\b`), "privilege escalation"},
	{regexp.MustCompile(`(?i)\$\(.*\)`), "command substitution"},
	{regexp.MustCompile("`[^`]*`"), "backtick command execution"},
	{regexp.MustCompile(`(?i)(;|\|\||&&)\s*(rm|chmod|chown)\b`), "chained mutation command"},
}

// CommandValidator inspects shell commands for destructive or suspicious
// constructs. Additional blocked substrings may be supplied via the
// "blocked_patterns" config list.
type CommandValidator struct {
	blocked []string
}

func NewCommandValidator(cfg map[string]any) (*CommandValidator, error) {
	return &CommandValidator{blocked: configStrings(cfg, "blocked_patterns")}, nil
}

func (c *CommandValidator) Name() string { return "command_validator" }

func (c *CommandValidator) Check(_ context.Context, call *policy.ToolCall) (*safety.Result, error) {
	cmd := commandParameter(call.Parameters)
	if cmd == "" {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusSkipped,
			Message:     "no command parameter to validate",
		}, nil
	}

	for _, p := range destructiveCommandPatterns {
		if p.re.MatchString(cmd) {
			return &safety.Result{
				CheckerName: c.Name(),
				Status:      safety.StatusFailed,
				Message:     fmt.Sprintf("destructive command blocked: %s", p.detail),
				Risk:        policy.RiskCritical,
				Details:     map[string]any{"command": cmd},
				Suggestions: []string{"run the command manually outside the agent if it is intended"},
			}, nil
		}
	}

	for _, blocked := range c.blocked {
		if strings.Contains(cmd, blocked) {
			return &safety.Result{
				CheckerName: c.Name(),
				Status:      safety.StatusFailed,
				Message:     fmt.Sprintf("command matches blocked pattern %q", blocked),
				Risk:        policy.RiskHigh,
				Details:     map[string]any{"command": cmd},
			}, nil
		}
	}

	var warnings []string
	for _, p := range suspiciousCommandPatterns {
		if p.re.MatchString(cmd) {
			warnings = append(warnings, p.detail)
		}
	}
	if len(warnings) > 0 {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusWarning,
			Message:     "suspicious command: " + strings.Join(warnings, "; "),
			Risk:        policy.RiskMedium,
			Details:     map[string]any{"command": cmd},
			CanOverride: true,
		}, nil
	}

	return &safety.Result{
		CheckerName: c.Name(),
		Status:      safety.StatusPassed,
		Message:     "command passed validation",
		Risk:        policy.RiskNone,
	}, nil
}

// commandParameter mirrors the policy package's command extraction.
func commandParameter(params map[string]any) string {
	for _, key := range []string{"command", "cmd", "script"} {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
