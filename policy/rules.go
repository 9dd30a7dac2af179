package policy

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Rule is one loaded policy rule. Immutable after construction; the glob
// patterns are compiled once at load time.
type Rule struct {
	Name         string
	Pattern      string
	Supervision  SupervisionLevel
	Risk         RiskLevel
	Conditions   []Condition
	Restrictions []Restriction
	SafetyChecks []SafetyCheck
	Priority     int
	Enabled      bool

	pattern glob.Glob
}

// Matches reports whether the rule applies to the call: the tool name must
// glob-match the pattern (case-insensitive) and every condition must match.
func (r *Rule) Matches(call *ToolCall) bool {
	if !r.Enabled {
		return false
	}
	if !r.pattern.Match(strings.ToLower(call.Name)) {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Matches(call) {
			return false
		}
	}
	return true
}

// Condition is one structured condition block attached to a rule. All keys
// in a block must match for the block to match. A block containing an
// unrecognized key never matches (fail closed).
type Condition struct {
	commandPattern glob.Glob
	commandPrefix  string
	pathPattern    glob.Glob

	hasCommandPattern bool
	hasCommandPrefix  bool
	hasPathPattern    bool
	unrecognized      bool
}

// newCondition compiles a raw condition block. Glob compile errors are
// reported so the loader can skip the whole rule.
func newCondition(raw map[string]any) (Condition, error) {
	var c Condition
	for key, val := range raw {
		s, ok := val.(string)
		if !ok {
			return c, fmt.Errorf("condition key %q: value must be a string", key)
		}
		switch key {
		case "command_pattern":
			g, err := glob.Compile(strings.ToLower(s))
			if err != nil {
				return c, fmt.Errorf("condition command_pattern %q: %w", s, err)
			}
			c.commandPattern = g
			c.hasCommandPattern = true
		case "command_prefix":
			c.commandPrefix = s
			c.hasCommandPrefix = true
		case "path_pattern":
			g, err := glob.Compile(s, '/')
			if err != nil {
				return c, fmt.Errorf("condition path_pattern %q: %w", s, err)
			}
			c.pathPattern = g
			c.hasPathPattern = true
		default:
			// Unknown condition keys make the block unmatchable rather
			// than being ignored, so a typo cannot widen a rule's reach.
			c.unrecognized = true
		}
	}
	return c, nil
}

// Matches evaluates the condition block against the call.
func (c Condition) Matches(call *ToolCall) bool {
	if c.unrecognized {
		return false
	}
	if c.hasCommandPattern || c.hasCommandPrefix {
		cmd := commandParameter(call.Parameters)
		if cmd == "" {
			return false
		}
		if c.hasCommandPattern && !c.commandPattern.Match(strings.ToLower(cmd)) {
			return false
		}
		if c.hasCommandPrefix && !strings.HasPrefix(strings.TrimSpace(cmd), c.commandPrefix) {
			return false
		}
	}
	if c.hasPathPattern {
		matched := false
		for _, p := range PathParameters(call.Parameters) {
			if c.pathPattern.Match(p) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// commandParameter returns the shell command carried by the call, if any.
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
