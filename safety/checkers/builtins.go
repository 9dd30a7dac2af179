// Package checkers provides the built-in safety checker implementations.
package checkers

import (
	"github.com/ridgeline-ai/gatehouse/safety"
)

// RegisterBuiltins registers every built-in checker kind with the registry.
// The rate_limit checker needs a call log and is registered separately via
// RegisterRateLimit.
func RegisterBuiltins(reg *safety.Registry) {
	reg.Register("command_validator", func(cfg map[string]any) (safety.Checker, error) {
		return NewCommandValidator(cfg)
	})
	reg.Register("sandbox_check", func(cfg map[string]any) (safety.Checker, error) {
		return NewSandboxChecker(cfg)
	})
	reg.Register("sensitive_data", func(cfg map[string]any) (safety.Checker, error) {
		return NewSensitiveDataChecker(cfg)
	})
	reg.Register("backup", func(cfg map[string]any) (safety.Checker, error) {
		return NewBackupChecker(cfg)
	})
	reg.Register("disk_space", func(cfg map[string]any) (safety.Checker, error) {
		return NewDiskSpaceChecker(cfg)
	})
	reg.Register("size_limit", func(cfg map[string]any) (safety.Checker, error) {
		return NewSizeLimitChecker(cfg)
	})
	reg.Register("permission_check", func(cfg map[string]any) (safety.Checker, error) {
		return NewPermissionChecker(cfg)
	})
	reg.Register("schema", func(cfg map[string]any) (safety.Checker, error) {
		return NewSchemaChecker(cfg)
	})
	reg.Register("double_confirmation", func(cfg map[string]any) (safety.Checker, error) {
		return NewDoubleConfirmationChecker(cfg)
	})
}

// CallLog supplies recent call counts for the rate_limit checker.
type CallLog interface {
	CountRecentCalls(toolName string, windowSeconds int) int
}

// RegisterRateLimit registers the rate_limit checker bound to a call log.
func RegisterRateLimit(reg *safety.Registry, log CallLog) {
	reg.Register("rate_limit", func(cfg map[string]any) (safety.Checker, error) {
		return NewRateLimitChecker(cfg, log)
	})
}

// configInt reads an integer-ish config value with a default.
func configInt(cfg map[string]any, key string, def int) int {
	if cfg == nil {
		return def
	}
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// configString reads a string config value with a default.
func configString(cfg map[string]any, key, def string) string {
	if cfg == nil {
		return def
	}
	if s, ok := cfg[key].(string); ok && s != "" {
		return s
	}
	return def
}

// configStrings reads a string-list config value.
func configStrings(cfg map[string]any, key string) []string {
	if cfg == nil {
		return nil
	}
	raw, ok := cfg[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
