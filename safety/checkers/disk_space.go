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

// DiskSpaceChecker verifies free space on the filesystem holding the target
// path. Config "min_free_mb" sets the floor (default 100).
type DiskSpaceChecker struct {
	minFreeMB int
}

func NewDiskSpaceChecker(cfg map[string]any) (*DiskSpaceChecker, error) {
	return &DiskSpaceChecker{minFreeMB: configInt(cfg, "min_free_mb", 100)}, nil
}

func (c *DiskSpaceChecker) Name() string { return "disk_space" }

func (c *DiskSpaceChecker) Check(_ context.Context, call *policy.ToolCall) (*safety.Result, error) {
	dir := "."
	if paths := policy.PathParameters(call.Parameters); len(paths) > 0 {
		dir = filepath.Dir(paths[0])
	}
	if _, err := os.Stat(dir); err != nil {
		dir = "."
	}

	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return nil, fmt.Errorf("disk_space: statfs %q: %w", dir, err)
	}

	freeMB := int(uint64(st.Bavail) * uint64(st.Bsize) / (1024 * 1024))
	details := map[string]any{"directory": dir, "free_mb": freeMB, "min_free_mb": c.minFreeMB}

	if freeMB < c.minFreeMB {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusFailed,
			Message:     fmt.Sprintf("only %d MB free on %q (minimum %d MB)", freeMB, dir, c.minFreeMB),
			Risk:        policy.RiskMedium,
			Details:     details,
			CanOverride: true,
			Suggestions: []string{"free disk space and retry"},
		}, nil
	}

	return &safety.Result{
		CheckerName: c.Name(),
		Status:      safety.StatusPassed,
		Message:     fmt.Sprintf("%d MB free on %q", freeMB, dir),
		Risk:        policy.RiskNone,
		Details:     details,
	}, nil
}
