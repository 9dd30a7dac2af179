package checkers

import (
	"context"
	"fmt"
	"os"

	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/ridgeline-ai/gatehouse/safety"
)

// SizeLimitChecker bounds the size of the data a call touches: the length
// of a "content" parameter, or the on-disk size of the target path.
// Config "max_bytes" sets the limit (default 10 MiB).
type SizeLimitChecker struct {
	maxBytes int64
}

func NewSizeLimitChecker(cfg map[string]any) (*SizeLimitChecker, error) {
	return &SizeLimitChecker{maxBytes: int64(configInt(cfg, "max_bytes", 10*1024*1024))}, nil
}

func (c *SizeLimitChecker) Name() string { return "size_limit" }

func (c *SizeLimitChecker) Check(_ context.Context, call *policy.ToolCall) (*safety.Result, error) {
	size, subject := c.measure(call)
	if size < 0 {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusSkipped,
			Message:     "nothing to size-check",
		}, nil
	}

	if size > c.maxBytes {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusFailed,
			Message:     fmt.Sprintf("%s is %d bytes (limit %d)", subject, size, c.maxBytes),
			Risk:        policy.RiskMedium,
			Details:     map[string]any{"size_bytes": size, "max_bytes": c.maxBytes},
			CanOverride: true,
			Suggestions: []string{"process the data in smaller chunks"},
		}, nil
	}

	return &safety.Result{
		CheckerName: c.Name(),
		Status:      safety.StatusPassed,
		Message:     fmt.Sprintf("%s is %d bytes", subject, size),
		Risk:        policy.RiskNone,
	}, nil
}

func (c *SizeLimitChecker) measure(call *policy.ToolCall) (int64, string) {
	for _, key := range []string{"content", "data", "body", "text"} {
		if v, ok := call.Parameters[key]; ok {
			if s, ok := v.(string); ok {
				return int64(len(s)), fmt.Sprintf("parameter %q", key)
			}
		}
	}
	for _, p := range policy.PathParameters(call.Parameters) {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		return info.Size(), fmt.Sprintf("file %q", p)
	}
	return -1, ""
}
