package policy

import (
	"fmt"
	"strings"
	"time"
)

// SupervisionLevel is the degree of human involvement required before a tool
// call may execute. Levels form a total order from most permissive to most
// restrictive; "more restrictive than" comparisons use the numeric order.
type SupervisionLevel int

const (
	Automatic SupervisionLevel = iota + 1 // execute without human involvement
	Notify                                // execute, but surface a notification
	Confirm                               // require a single human confirmation
	Manual                                // require explicit manual approval
	Deny                                  // never execute
)

// String returns the lowercase level name.
func (s SupervisionLevel) String() string {
	switch s {
	case Automatic:
		return "automatic"
	case Notify:
		return "notify"
	case Confirm:
		return "confirm"
	case Manual:
		return "manual"
	case Deny:
		return "deny"
	default:
		return "unspecified"
	}
}

// ParseSupervision parses a level name (case-insensitive).
func ParseSupervision(s string) (SupervisionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "automatic", "auto":
		return Automatic, nil
	case "notify":
		return Notify, nil
	case "confirm":
		return Confirm, nil
	case "manual":
		return Manual, nil
	case "deny":
		return Deny, nil
	default:
		return 0, fmt.Errorf("unknown supervision level %q", s)
	}
}

// RiskLevel is a qualitative severity rating attached to decisions and
// safety results.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

// Weight maps the level to a numeric weight used for risk-score averaging.
func (r RiskLevel) Weight() float64 {
	switch r {
	case RiskLow:
		return 0.25
	case RiskMedium:
		return 0.5
	case RiskHigh:
		return 0.75
	case RiskCritical:
		return 1.0
	default:
		return 0
	}
}

// String returns the lowercase risk name.
func (r RiskLevel) String() string {
	switch r {
	case RiskNone:
		return "none"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unspecified"
	}
}

// ParseRisk parses a risk name (case-insensitive).
func ParseRisk(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return RiskNone, nil
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	case "critical":
		return RiskCritical, nil
	default:
		return 0, fmt.Errorf("unknown risk level %q", s)
	}
}

// ToolCall is one invocation attempt as requested by the agent layer.
// Created once per attempt and never mutated.
type ToolCall struct {
	Name       string
	Parameters map[string]any
	Context    map[string]any
	AgentName  string
	RequestID  string
	Timestamp  time.Time
}

// ExecutionContext is caller-supplied identity and metadata for one call.
// Read-only input to evaluation; never retained by the core beyond the call.
type ExecutionContext struct {
	UserID    string
	SessionID string
	AgentName string
	RequestID string
	Metadata  map[string]string
}

// Restriction is a declarative constraint attached to a decision, carried
// for the handler or UI to enforce or display.
type Restriction struct {
	Kind   string
	Config map[string]any
	Reason string
}

// SafetyCheck names a checker to run before execution, with its
// per-invocation configuration and timeout. A check that is not Required
// may error or time out without raising the pipeline's overall status;
// its result is still recorded.
type SafetyCheck struct {
	Name     string
	Kind     string
	Config   map[string]any
	Required bool
	Timeout  time.Duration
}

// DefaultCheckTimeout bounds a single safety checker invocation.
const DefaultCheckTimeout = 5 * time.Second

// Decision is the resolved outcome of evaluating one tool call.
//
// Invariants once evaluation completes: RequiresConfirmation is true exactly
// when Supervision is Confirm or Manual, and Allowed == false implies
// Supervision == Deny.
type Decision struct {
	Allowed              bool
	Supervision          SupervisionLevel
	Risk                 RiskLevel
	Restrictions         []Restriction
	SafetyChecks         []SafetyCheck
	Reason               string
	RequiresConfirmation bool
	ConfirmationMessage  string
	Metadata             map[string]any
}

// pathParameterKeys is the canonical set of parameter names treated as
// filesystem paths by conditions and checkers.
var pathParameterKeys = []string{
	"path", "file_path", "filepath", "filename", "file",
	"directory", "dir", "target", "destination", "dest", "source", "src",
}

// PathParameters extracts path-like values from a parameter map: first the
// canonical keys, then a fallback scan of all string parameters that look
// like paths.
func PathParameters(params map[string]any) []string {
	var paths []string
	for _, key := range pathParameterKeys {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				paths = append(paths, s)
			}
		}
	}
	if len(paths) > 0 {
		return paths
	}
	for _, v := range params {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		if strings.ContainsRune(s, '/') || strings.HasPrefix(s, ".") || strings.HasPrefix(s, "~") {
			paths = append(paths, s)
		}
	}
	return paths
}
