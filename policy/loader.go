package policy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed builtin_rules.yaml
var builtinRulesYAML []byte

// RuleConfig is the declarative form of a rule, as it appears in a rule
// source (YAML file or database row).
type RuleConfig struct {
	Pattern      string              `yaml:"pattern"`
	Supervision  string              `yaml:"supervision"`
	Risk         string              `yaml:"risk"`
	Conditions   []map[string]any    `yaml:"conditions"`
	Restrictions []RestrictionConfig `yaml:"restrictions"`
	SafetyChecks []CheckConfig       `yaml:"safety_checks"`
	Priority     int                 `yaml:"priority"`
	Enabled      *bool               `yaml:"enabled"`
}

// RestrictionConfig is the declarative form of a restriction.
type RestrictionConfig struct {
	Kind   string         `yaml:"kind"`
	Config map[string]any `yaml:"config"`
	Reason string         `yaml:"reason"`
}

// CheckConfig is the declarative form of a safety check reference. In YAML
// it may be a bare checker name or a mapping with config and timeout.
type CheckConfig struct {
	Name           string         `yaml:"name"`
	Kind           string         `yaml:"kind"`
	Config         map[string]any `yaml:"config"`
	Required       *bool          `yaml:"required"`
	TimeoutSeconds float64        `yaml:"timeout_seconds"`
}

// UnmarshalYAML accepts both `- backup` and `- {name: backup, config: ...}`.
func (c *CheckConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&c.Name)
	}
	type plain CheckConfig
	return node.Decode((*plain)(c))
}

// NewRule builds a Rule from its declarative config, compiling glob
// patterns and conditions. Returns an error for any malformed field so the
// caller can skip the rule.
func NewRule(name string, cfg RuleConfig) (Rule, error) {
	if cfg.Pattern == "" {
		return Rule{}, fmt.Errorf("rule %q: missing pattern", name)
	}
	g, err := glob.Compile(strings.ToLower(cfg.Pattern))
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: pattern: %w", name, err)
	}
	supervision, err := ParseSupervision(cfg.Supervision)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", name, err)
	}
	risk := RiskNone
	if cfg.Risk != "" {
		risk, err = ParseRisk(cfg.Risk)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %q: %w", name, err)
		}
	}

	r := Rule{
		Name:        name,
		Pattern:     cfg.Pattern,
		Supervision: supervision,
		Risk:        risk,
		Priority:    cfg.Priority,
		Enabled:     cfg.Enabled == nil || *cfg.Enabled,
		pattern:     g,
	}

	for _, raw := range cfg.Conditions {
		cond, err := newCondition(raw)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %q: %w", name, err)
		}
		r.Conditions = append(r.Conditions, cond)
	}
	for _, rc := range cfg.Restrictions {
		r.Restrictions = append(r.Restrictions, Restriction{
			Kind:   rc.Kind,
			Config: rc.Config,
			Reason: rc.Reason,
		})
	}
	for _, cc := range cfg.SafetyChecks {
		check := SafetyCheck{
			Name:     cc.Name,
			Kind:     cc.Kind,
			Config:   cc.Config,
			Required: cc.Required == nil || *cc.Required,
			Timeout:  DefaultCheckTimeout,
		}
		if check.Kind == "" {
			check.Kind = check.Name
		}
		if cc.TimeoutSeconds > 0 {
			check.Timeout = time.Duration(cc.TimeoutSeconds * float64(time.Second))
		}
		if check.Name == "" {
			return Rule{}, fmt.Errorf("rule %q: safety check with empty name", name)
		}
		r.SafetyChecks = append(r.SafetyChecks, check)
	}
	return r, nil
}

// ParseRules parses one YAML rule source: a mapping of category to
// rule-name to rule config. Malformed rules are skipped with a warning,
// never fatal to the load.
func ParseRules(data []byte, logger *zap.Logger) ([]Rule, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var doc map[string]map[string]RuleConfig
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	// Deterministic order: by category, then rule name.
	categories := make([]string, 0, len(doc))
	for cat := range doc {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var rules []Rule
	for _, cat := range categories {
		names := make([]string, 0, len(doc[cat]))
		for name := range doc[cat] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rule, err := NewRule(name, doc[cat][name])
			if err != nil {
				logger.Warn("skipping malformed rule",
					zap.String("category", cat),
					zap.Error(err),
				)
				continue
			}
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// LoadRuleFile reads and parses one YAML rule file.
func LoadRuleFile(path string, logger *zap.Logger) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return ParseRules(data, logger)
}

// BuiltinRules returns the embedded default rule layer.
func BuiltinRules(logger *zap.Logger) []Rule {
	rules, err := ParseRules(builtinRulesYAML, logger)
	if err != nil {
		// The embedded document is compiled into the binary; a parse
		// failure is a build defect, not a runtime condition.
		panic(fmt.Sprintf("builtin rules: %v", err))
	}
	return rules
}

// MergeRules layers rule sources in order. Later layers add new rules or
// override earlier ones by rule name.
func MergeRules(layers ...[]Rule) []Rule {
	index := map[string]int{}
	var merged []Rule
	for _, layer := range layers {
		for _, r := range layer {
			if i, ok := index[r.Name]; ok {
				merged[i] = r
				continue
			}
			index[r.Name] = len(merged)
			merged = append(merged, r)
		}
	}
	return merged
}
