package backup

import "fmt"

// PreconditionError indicates the backup location could not be inspected
// (missing path, permission denied). It always aborts a run before any
// mutation of the live site.
type PreconditionError struct {
	Path   string
	Detail string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for %q: %s", e.Path, e.Detail)
}

// StagingError indicates the archive could not be expanded into a usable
// staging directory.
type StagingError struct {
	Path   string
	Detail string
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging failed for %q: %s", e.Path, e.Detail)
}

// BackupError indicates the preventive snapshot could not be created or
// verified. The run must not proceed to any destructive step.
type BackupError struct {
	Path   string
	Detail string
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("preventive backup %q failed: %s", e.Path, e.Detail)
}
