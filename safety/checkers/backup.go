package checkers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ridgeline-ai/gatehouse/policy"
	"github.com/ridgeline-ai/gatehouse/safety"
)

// BackupChecker copies the target file aside before a mutating call. The
// backup location lands in the result's parameter modifications as
// "backup_path" so the handler and UI can reference it. Config
// "backup_dir" overrides the default location under the temp directory.
type BackupChecker struct {
	dir string
}

func NewBackupChecker(cfg map[string]any) (*BackupChecker, error) {
	dir := configString(cfg, "backup_dir", filepath.Join(os.TempDir(), "gatehouse-backups"))
	return &BackupChecker{dir: dir}, nil
}

func (c *BackupChecker) Name() string { return "backup" }

func (c *BackupChecker) Check(_ context.Context, call *policy.ToolCall) (*safety.Result, error) {
	paths := policy.PathParameters(call.Parameters)
	if len(paths) == 0 {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusSkipped,
			Message:     "no path parameters to back up",
		}, nil
	}

	target := paths[0]
	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusPassed,
			Message:     "no existing file to back up",
			Risk:        policy.RiskNone,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: stat %q: %w", target, err)
	}
	if info.IsDir() {
		return &safety.Result{
			CheckerName: c.Name(),
			Status:      safety.StatusWarning,
			Message:     fmt.Sprintf("target %q is a directory; not backed up", target),
			Risk:        policy.RiskLow,
			CanOverride: true,
		}, nil
	}

	backupPath, err := c.copyAside(target)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	return &safety.Result{
		CheckerName: c.Name(),
		Status:      safety.StatusPassed,
		Message:     fmt.Sprintf("backed up %q", target),
		Risk:        policy.RiskNone,
		Details:     map[string]any{"backup_path": backupPath},
		ParameterModifications: map[string]any{
			"backup_path": backupPath,
		},
	}, nil
}

func (c *BackupChecker) copyAside(target string) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s.%s.bak", filepath.Base(target), time.Now().UTC().Format("20060102T150405.000000000"))
	backupPath := filepath.Join(c.dir, name)

	src, err := os.Open(target)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(backupPath)
		return "", err
	}
	return backupPath, nil
}
