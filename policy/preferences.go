package policy

import (
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Preferences carries user overrides applied after rule resolution:
// per-tool supervision levels, auto-approve patterns, and never-allow
// patterns. Immutable after parsing.
type Preferences struct {
	Tools map[string]ToolPreference

	autoApprove []glob.Glob
	neverAllow  []glob.Glob
}

// ToolPreference is the per-tool override block.
type ToolPreference struct {
	Supervision SupervisionLevel
}

type preferencesFile struct {
	Tools map[string]struct {
		Supervision string `yaml:"supervision"`
	} `yaml:"tools"`
	AutoApprove []string `yaml:"auto_approve"`
	NeverAllow  []string `yaml:"never_allow"`
}

// ParsePreferences parses a YAML (or JSON) preference document. Malformed
// entries are skipped with a warning; only an unreadable document is an
// error.
func ParsePreferences(data []byte, logger *zap.Logger) (*Preferences, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var pf preferencesFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse preferences: %w", err)
	}

	p := &Preferences{Tools: make(map[string]ToolPreference)}
	for name, tp := range pf.Tools {
		level, err := ParseSupervision(tp.Supervision)
		if err != nil {
			logger.Warn("skipping tool preference",
				zap.String("tool", name),
				zap.Error(err),
			)
			continue
		}
		p.Tools[name] = ToolPreference{Supervision: level}
	}
	p.autoApprove = compilePatterns(pf.AutoApprove, "auto_approve", logger)
	p.neverAllow = compilePatterns(pf.NeverAllow, "never_allow", logger)
	return p, nil
}

// LoadPreferences reads and parses a preference file.
func LoadPreferences(path string, logger *zap.Logger) (*Preferences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	return ParsePreferences(data, logger)
}

func (p *Preferences) autoApproved(toolName string) bool {
	return matchesAny(p.autoApprove, toolName)
}

func (p *Preferences) neverAllowed(toolName string) bool {
	return matchesAny(p.neverAllow, toolName)
}

func matchesAny(globs []glob.Glob, toolName string) bool {
	name := strings.ToLower(toolName)
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func compilePatterns(patterns []string, field string, logger *zap.Logger) []glob.Glob {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pat := range patterns {
		g, err := glob.Compile(strings.ToLower(pat))
		if err != nil {
			logger.Warn("skipping preference pattern",
				zap.String("field", field),
				zap.String("pattern", pat),
				zap.Error(err),
			)
			continue
		}
		globs = append(globs, g)
	}
	return globs
}
