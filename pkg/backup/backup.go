package backup

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"iis-rollback/pkg/logger"
	"iis-rollback/pkg/remote"
)

// Kind classifies the content of the remote backup location.
type Kind int

const (
	KindEmpty Kind = iota
	KindDirectory
	KindArchive
	KindAmbiguous
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "Directory"
	case KindArchive:
		return "Archive"
	case KindAmbiguous:
		return "Ambiguous"
	default:
		return "Empty"
	}
}

// StagingContext describes the directory the replacement step reads from.
// When IsTemporary is set, the run that created it owns its removal.
type StagingContext struct {
	SourcePath  string `json:"source_path"`
	IsTemporary bool   `json:"is_temporary"`
}

// PreventiveBackupRecord points at the snapshot taken before any destructive
// step. The engine never deletes it; it is kept for manual recovery.
type PreventiveBackupRecord struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager performs backup classification, staging and preventive snapshots
// against the remote host.
type Manager struct {
	exec remote.Executor
}

// NewManager creates a backup manager bound to the given executor.
func NewManager(exec remote.Executor) *Manager {
	return &Manager{exec: exec}
}

const timestampLayout = "20060102_150405"

// Classify lists the entries directly under backupPath and derives the
// backup kind from the zip count:
//
//	exactly 1 zip           -> Archive, whatever else sits next to it
//	2 or more zips          -> Ambiguous, no authoritative archive
//	no zips, >=1 entries    -> Directory
//	no entries at all       -> Empty
//
// A listing failure is a precondition failure, never Empty.
func (m *Manager) Classify(ctx context.Context, backupPath string) (Kind, error) {
	command := remote.Powershell(fmt.Sprintf(
		`if (!(Test-Path -Path '%s')) { exit 2 }; `+
			`$items = @(Get-ChildItem -Path '%s' -ErrorAction Stop); `+
			`$zips = @($items | Where-Object { $_.Extension -eq '.zip' }); `+
			`Write-Host "$($zips.Count)|$($items.Count)"`,
		backupPath, backupPath))

	result, err := m.exec.Execute(ctx, command)
	if err != nil {
		return KindEmpty, errors.Wrap(err, "list backup path")
	}
	if !result.Success() {
		return KindEmpty, &PreconditionError{
			Path:   backupPath,
			Detail: fmt.Sprintf("backup path listing failed (exit %d): %s", result.ExitCode, result.Stderr),
		}
	}

	zipCount, total, err := parseCounts(result.Stdout)
	if err != nil {
		return KindEmpty, &PreconditionError{
			Path:   backupPath,
			Detail: fmt.Sprintf("unparseable listing output %q", result.Stdout),
		}
	}

	var kind Kind
	switch {
	case zipCount == 1:
		kind = KindArchive
	case zipCount >= 2:
		kind = KindAmbiguous
	case total >= 1:
		kind = KindDirectory
	default:
		kind = KindEmpty
	}

	logger.Log.WithFields(map[string]interface{}{
		"backup_path": backupPath,
		"zip_count":   zipCount,
		"entry_count": total,
		"kind":        kind.String(),
		"component":   "backup",
	}).Info("Backup location classified")

	return kind, nil
}

// Stage produces the directory the replacement step will copy from.
// Directory kind is a no-op; Archive kind expands the single zip into a
// fresh timestamped directory under tempRoot. A failed expansion removes
// the partial directory before the error is returned.
func (m *Manager) Stage(ctx context.Context, backupPath string, kind Kind, tempRoot string, startedAt time.Time) (StagingContext, error) {
	if kind == KindDirectory {
		return StagingContext{SourcePath: backupPath, IsTemporary: false}, nil
	}
	if kind != KindArchive {
		return StagingContext{}, &StagingError{Path: backupPath, Detail: fmt.Sprintf("kind %s cannot be staged", kind)}
	}

	zipPath, err := m.findArchive(ctx, backupPath)
	if err != nil {
		return StagingContext{}, err
	}

	tempDir := joinWin(tempRoot, "Rollback_"+startedAt.Format(timestampLayout))

	command := remote.Powershell(fmt.Sprintf(
		`New-Item -Path '%s' -ItemType Directory -Force | Out-Null; `+
			`Expand-Archive -Path '%s' -DestinationPath '%s' -Force; `+
			`Write-Host 'Extraction complete'`,
		tempDir, zipPath, tempDir))

	result, err := m.exec.Execute(ctx, command)
	if err != nil {
		m.removeDir(ctx, tempDir)
		return StagingContext{}, errors.Wrap(err, "extract archive")
	}
	if !result.Success() {
		m.removeDir(ctx, tempDir)
		return StagingContext{}, &StagingError{
			Path:   zipPath,
			Detail: fmt.Sprintf("archive expansion failed (exit %d): %s", result.ExitCode, result.Stderr),
		}
	}

	logger.LogBackup("stage", zipPath, tempDir, true)
	return StagingContext{SourcePath: tempDir, IsTemporary: true}, nil
}

// CleanupStaging removes a temporary staging directory. Calling it on a
// non-temporary context is a no-op.
func (m *Manager) CleanupStaging(ctx context.Context, staging StagingContext) error {
	if !staging.IsTemporary || staging.SourcePath == "" {
		return nil
	}
	return m.removeDir(ctx, staging.SourcePath)
}

// Snapshot copies the live site tree into a timestamped directory under
// backupRoot and verifies the result. An empty live tree is acknowledged
// rather than treated as failure; a non-empty tree producing an empty
// snapshot is.
func (m *Manager) Snapshot(ctx context.Context, sitePath, backupRoot, siteName string, startedAt time.Time) (PreventiveBackupRecord, error) {
	backupPath := joinWin(backupRoot, "PreRollback_"+startedAt.Format(timestampLayout))

	create := remote.Powershell(fmt.Sprintf(
		`New-Item -Path '%s' -ItemType Directory -Force | Out-Null; Write-Host 'Created'`, backupPath))
	result, err := m.exec.Execute(ctx, create)
	if err != nil {
		return PreventiveBackupRecord{}, errors.Wrap(err, "create preventive backup directory")
	}
	if !result.Success() {
		return PreventiveBackupRecord{}, &BackupError{Path: backupPath, Detail: result.Stderr}
	}

	copyCmd := fmt.Sprintf(`robocopy "%s" "%s" /E /Z /R:3 /W:5`, sitePath, backupPath)
	result, err = m.exec.Execute(ctx, copyCmd)
	if err != nil {
		return PreventiveBackupRecord{}, errors.Wrap(err, "copy preventive backup")
	}
	if result.ExitCode > 2 {
		logger.LogBackup("snapshot", sitePath, backupPath, false)
		return PreventiveBackupRecord{}, &BackupError{
			Path:   backupPath,
			Detail: fmt.Sprintf("robocopy exit %d: %s", result.ExitCode, result.Stderr),
		}
	}

	verify := remote.Powershell(fmt.Sprintf(
		`$src = @(Get-ChildItem -Path '%s' -Recurse -File).Count; `+
			`$dst = @(Get-ChildItem -Path '%s' -Recurse -File).Count; `+
			`Write-Host "$src|$dst"`,
		sitePath, backupPath))
	result, err = m.exec.Execute(ctx, verify)
	if err != nil {
		return PreventiveBackupRecord{}, errors.Wrap(err, "verify preventive backup")
	}
	srcCount, dstCount, err := parseCounts(result.Stdout)
	if err != nil || !result.Success() {
		return PreventiveBackupRecord{}, &BackupError{
			Path:   backupPath,
			Detail: fmt.Sprintf("unverifiable snapshot, output %q", result.Stdout),
		}
	}

	if dstCount == 0 {
		if srcCount > 0 {
			logger.LogBackup("snapshot", sitePath, backupPath, false)
			return PreventiveBackupRecord{}, &BackupError{
				Path:   backupPath,
				Detail: fmt.Sprintf("snapshot empty while live site holds %d files", srcCount),
			}
		}
		// Live site was already empty; record the acknowledgement.
		logger.Log.WithField("site_path", sitePath).Warn("Live site empty, preventive backup acknowledged empty")
	}

	logger.LogBackup("snapshot", sitePath, backupPath, true)
	return PreventiveBackupRecord{Path: backupPath, CreatedAt: startedAt}, nil
}

// findArchive resolves the full path of the single zip under backupPath.
func (m *Manager) findArchive(ctx context.Context, backupPath string) (string, error) {
	command := remote.Powershell(fmt.Sprintf(
		`$zip = Get-ChildItem -Path '%s' -Filter *.zip | Select-Object -First 1; Write-Host $zip.FullName`,
		backupPath))

	result, err := m.exec.Execute(ctx, command)
	if err != nil {
		return "", errors.Wrap(err, "locate archive")
	}
	if !result.Success() || result.Stdout == "" {
		return "", &StagingError{Path: backupPath, Detail: "archive not found"}
	}
	return result.Stdout, nil
}

func (m *Manager) removeDir(ctx context.Context, path string) error {
	command := remote.Powershell(fmt.Sprintf(
		`Remove-Item -Path '%s' -Recurse -Force -ErrorAction SilentlyContinue; Write-Host 'Cleanup complete'`, path))

	result, err := m.exec.Execute(ctx, command)
	if err != nil {
		logger.LogError("backup", "remove_dir", err)
		return errors.Wrap(err, "remove directory")
	}
	if !result.Success() {
		logger.Log.WithField("path", path).Warn("Directory removal reported failure")
		return &StagingError{Path: path, Detail: result.Stderr}
	}
	return nil
}

func parseCounts(output string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(output), "|")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected two counts, got %q", output)
	}
	first, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	second, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return first, second, nil
}

// joinWin joins remote Windows path segments without touching the local
// path separator.
func joinWin(base, name string) string {
	return strings.TrimRight(base, `\`) + `\` + name
}
