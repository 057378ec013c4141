package iis

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"iis-rollback/pkg/logger"
	"iis-rollback/pkg/remote"
)

// DeleteContent removes everything under sitePath while keeping the root
// folder itself, so the mount point and its permissions survive.
func (c *Controller) DeleteContent(ctx context.Context, sitePath string) error {
	command := remote.Powershell(fmt.Sprintf(
		`Remove-Item -Path '%s\*' -Recurse -Force -ErrorAction Stop; Write-Host 'Content deletion complete'`,
		strings.TrimRight(sitePath, `\`)))

	result, err := c.exec.Execute(ctx, command)
	if err != nil {
		return errors.Wrap(err, "delete site content")
	}
	if !result.Success() {
		return &CopyError{
			Operation:      "delete",
			Destination:    sitePath,
			ExitCode:       result.ExitCode,
			Output:         result.Stderr,
			NonRecoverable: isDestinationInaccessible(result.Stderr),
		}
	}

	logger.Log.WithField("site_path", sitePath).Info("Site content deleted")
	return nil
}

// CopyContent mirrors the staged tree into sitePath with robocopy.
// Robocopy exit codes 0, 1 and 2 mean the copy completed.
func (c *Controller) CopyContent(ctx context.Context, sourcePath, destPath string) error {
	command := fmt.Sprintf(`robocopy "%s" "%s" /E /Z /R:3 /W:5`, sourcePath, destPath)

	result, err := c.exec.Execute(ctx, command)
	if err != nil {
		return errors.Wrap(err, "copy site content")
	}

	if result.ExitCode >= 0 && result.ExitCode <= 2 {
		logger.Log.WithFields(map[string]interface{}{
			"source":      sourcePath,
			"destination": destPath,
			"exit_code":   result.ExitCode,
		}).Info("Site content copied")
		return nil
	}

	return &CopyError{
		Operation:      "copy",
		Source:         sourcePath,
		Destination:    destPath,
		ExitCode:       result.ExitCode,
		Output:         result.Stderr,
		NonRecoverable: result.ExitCode >= 16 || isDestinationInaccessible(result.Stderr),
	}
}

// isDestinationInaccessible recognizes failures where the target path itself
// is gone or unwritable, as opposed to a partial copy.
func isDestinationInaccessible(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "access is denied") ||
		strings.Contains(lower, "cannot find the path") ||
		strings.Contains(lower, "cannot find path")
}
