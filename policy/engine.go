package policy

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Engine resolves a Decision for every tool call from the loaded rule set,
// a default heuristic, and user preference overrides. The rule set is
// immutable after construction, so Evaluate is safe for concurrent use.
type Engine struct {
	rules              []Rule
	prefs              *Preferences
	defaultSupervision SupervisionLevel
	logger             *zap.Logger
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Rules       []Rule
	Preferences *Preferences
	// DefaultSupervision applies when no rule matches and the tool name
	// hits no heuristic category. Defaults to Confirm.
	DefaultSupervision SupervisionLevel
	Logger             *zap.Logger
}

// NewEngine creates an engine over an immutable snapshot of the given rules.
func NewEngine(cfg EngineConfig) *Engine {
	def := cfg.DefaultSupervision
	if def == 0 {
		def = Confirm
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rules := make([]Rule, len(cfg.Rules))
	copy(rules, cfg.Rules)
	return &Engine{
		rules:              rules,
		prefs:              cfg.Preferences,
		defaultSupervision: def,
		logger:             logger,
	}
}

// foldState carries the running supervision/risk values through the rule
// fold, together with the priority that set them. A zero foldState is the
// explicit "no rule applied yet" seed.
type foldState struct {
	supervision SupervisionLevel
	risk        RiskLevel
	priority    int
	seeded      bool
}

// foldRule folds one matching rule into the accumulator. The first rule
// seeds the state; subsequent rules at the same priority tier may only
// escalate, never relax.
func foldRule(st foldState, r *Rule) foldState {
	if !st.seeded {
		return foldState{
			supervision: r.Supervision,
			risk:        r.Risk,
			priority:    r.Priority,
			seeded:      true,
		}
	}
	if r.Priority >= st.priority {
		if r.Supervision > st.supervision {
			st.supervision = r.Supervision
		}
		if r.Risk > st.risk {
			st.risk = r.Risk
		}
	}
	return st
}

// Evaluate resolves a single Decision for the call.
func (e *Engine) Evaluate(call *ToolCall) *Decision {
	matched := e.matchingRules(call)
	if len(matched) == 0 {
		d := e.heuristicDecision(call)
		e.applyPreferences(call, d)
		e.finalize(call, d)
		return d
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})

	d := &Decision{Allowed: true, Metadata: map[string]any{}}
	st := foldState{}
	seen := map[string]bool{}
	var ruleNames []string

	for _, r := range matched {
		if r.Supervision == Deny {
			d.Allowed = false
			d.Supervision = Deny
			d.Risk = r.Risk
			d.Reason = fmt.Sprintf("denied by rule %q", r.Name)
			e.finalize(call, d)
			return d
		}
		st = foldRule(st, r)
		d.Restrictions = append(d.Restrictions, r.Restrictions...)
		for _, check := range r.SafetyChecks {
			if !seen[check.Name] {
				seen[check.Name] = true
				d.SafetyChecks = append(d.SafetyChecks, check)
			}
		}
		ruleNames = append(ruleNames, r.Name)
	}

	d.Supervision = st.supervision
	d.Risk = st.risk
	d.Reason = "matched rules: " + strings.Join(ruleNames, ", ")
	d.Metadata["matched_rules"] = ruleNames

	e.applyPreferences(call, d)
	e.finalize(call, d)
	return d
}

func (e *Engine) matchingRules(call *ToolCall) []*Rule {
	var matched []*Rule
	for i := range e.rules {
		if e.rules[i].Matches(call) {
			matched = append(matched, &e.rules[i])
		}
	}
	return matched
}

// heuristicDecision classifies an unmatched tool name by substring.
func (e *Engine) heuristicDecision(call *ToolCall) *Decision {
	name := strings.ToLower(call.Name)
	d := &Decision{Allowed: true, Metadata: map[string]any{"heuristic": true}}

	switch {
	case containsAny(name, "read", "list", "get", "show", "view"):
		d.Supervision = Automatic
		d.Risk = RiskLow
		d.SafetyChecks = namedChecks("size_limit")
		d.Reason = "no matching rule; read-only tool"
	case containsAny(name, "write", "create", "save", "put"):
		d.Supervision = Confirm
		d.Risk = RiskMedium
		d.SafetyChecks = namedChecks("backup", "disk_space")
		d.Reason = "no matching rule; tool modifies data"
		d.ConfirmationMessage = fmt.Sprintf("Tool %q will create or modify data. Continue?", call.Name)
	case containsAny(name, "delete", "remove", "rm", "destroy"):
		d.Supervision = Manual
		d.Risk = RiskHigh
		d.SafetyChecks = namedChecks("backup", "double_confirmation")
		d.Reason = "no matching rule; destructive tool"
	case containsAny(name, "execute", "run", "exec", "command"):
		d.Supervision = Confirm
		d.Risk = RiskHigh
		d.SafetyChecks = namedChecks("command_validator", "sandbox_check")
		d.Reason = "no matching rule; tool executes commands"
	default:
		d.Supervision = e.defaultSupervision
		d.Risk = RiskMedium
		d.Reason = "no matching rule; default supervision"
	}
	return d
}

// applyPreferences folds user preferences into the decision. A denied
// decision is never re-allowed; the fixed order is per-tool supervision,
// then auto_approve, then never_allow, so never_allow always wins.
func (e *Engine) applyPreferences(call *ToolCall, d *Decision) {
	if e.prefs == nil || !d.Allowed {
		return
	}

	if tp, ok := e.prefs.Tools[call.Name]; ok && tp.Supervision > d.Supervision {
		d.Supervision = tp.Supervision
	}

	// auto_approve is an explicit user escape hatch: it forces Automatic
	// and drops the pending safety checks regardless of prior risk.
	if e.prefs.autoApproved(call.Name) {
		d.Supervision = Automatic
		d.SafetyChecks = nil
		d.Metadata["auto_approved"] = true
	}

	if e.prefs.neverAllowed(call.Name) {
		d.Allowed = false
		d.Supervision = Deny
		d.Reason = "tool is never allowed by user preference"
	}
}

// finalize settles the confirmation invariant and synthesizes a
// human-readable confirmation message when one is required.
func (e *Engine) finalize(call *ToolCall, d *Decision) {
	d.RequiresConfirmation = d.Supervision == Confirm || d.Supervision == Manual
	if !d.RequiresConfirmation || d.ConfirmationMessage != "" {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tool %q requires confirmation (risk: %s)", call.Name, d.Risk)
	if call.AgentName != "" {
		fmt.Fprintf(&b, "\nRequested by agent: %s", call.AgentName)
	}
	keys := make([]string, 0, len(call.Parameters))
	for k := range call.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  %s: %v", k, call.Parameters[k])
	}
	d.ConfirmationMessage = b.String()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func namedChecks(names ...string) []SafetyCheck {
	checks := make([]SafetyCheck, len(names))
	for i, n := range names {
		checks[i] = SafetyCheck{
			Name:     n,
			Kind:     n,
			Required: true,
			Timeout:  DefaultCheckTimeout,
		}
	}
	return checks
}
