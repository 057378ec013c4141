package rollback

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"iis-rollback/pkg/backup"
	"iis-rollback/pkg/iis"
	"iis-rollback/pkg/logger"
)

// Step names as they appear in audit records and failure reports.
const (
	StepInit       = "Init"
	StepLocating   = "Locating"
	StepStaging    = "Staging"
	StepBackingUp  = "BackingUp"
	StepStopping   = "Stopping"
	StepReplacing  = "Replacing"
	StepStarting   = "Starting"
	StepCleaningUp = "CleaningUp"
)

// Request is the immutable input to one rollback run.
type Request struct {
	SiteName   string `json:"site_name"`
	SitePath   string `json:"site_path"`
	BackupPath string `json:"backup_path"`
	TempRoot   string `json:"temp_root"`
	BackupRoot string `json:"backup_root"`
}

// Validate checks the request invariants before anything touches the host.
func (r Request) Validate() error {
	if r.SiteName == "" {
		return errors.New("site name is required")
	}
	if r.SitePath == "" {
		return errors.New("site path is required")
	}
	if r.BackupPath == "" {
		return errors.New("backup path is required")
	}
	if r.TempRoot == "" {
		return errors.New("temp root is required")
	}
	if r.BackupRoot == "" {
		return errors.New("backup root is required")
	}
	return nil
}

// Policy holds the configurable decisions the state machine consults.
type Policy struct {
	// StartAfterCopyFailure controls whether a partially failed content
	// replacement still attempts to bring the site up. A copy failure
	// classified as non-recoverable always hard-stops.
	StartAfterCopyFailure bool
}

// Orchestrator drives one rollback run through its ordered states:
//
//	Init -> Locating -> Staging -> BackingUp -> Stopping -> Replacing
//	     -> Starting -> CleaningUp -> Done
//
// No destructive remote call happens before the backup source is classified
// unambiguously and the preventive backup is verified.
type Orchestrator struct {
	sites    *iis.Controller
	backups  *backup.Manager
	registry *Registry
	policy   Policy
}

// New assembles an orchestrator from its collaborators.
func New(sites *iis.Controller, backups *backup.Manager, registry *Registry, policy Policy) *Orchestrator {
	return &Orchestrator{
		sites:    sites,
		backups:  backups,
		registry: registry,
		policy:   policy,
	}
}

// Run executes one rollback and always returns a terminal Result; failures
// are carried in the result, never swallowed. Cancellation is honored at
// step boundaries only, so a dispatched remote command completes before the
// run fails.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Result {
	result := &Result{
		RunID:     uuid.New(),
		SiteName:  req.SiteName,
		StartedAt: time.Now(),
	}
	defer func() {
		result.FinishedAt = time.Now()
		logger.Log.WithFields(map[string]interface{}{
			"run_id":      result.RunID.String(),
			"site_name":   result.SiteName,
			"outcome":     result.Outcome.String(),
			"failed_step": result.FailedStep,
			"duration":    result.FinishedAt.Sub(result.StartedAt).String(),
			"component":   "orchestrator",
		}).Info("Rollback run finished")
	}()

	if err := req.Validate(); err != nil {
		result.fail(StepInit, err)
		return result
	}

	release, err := o.registry.Acquire(req.SiteName, req.SitePath, result.RunID)
	if err != nil {
		result.fail(StepInit, err)
		return result
	}
	defer release()

	// Locating
	if cancelled(ctx, result, StepLocating) {
		return result
	}
	step := result.beginStep(StepLocating)
	kind, err := o.backups.Classify(ctx, req.BackupPath)
	if err != nil {
		result.endStep(step, false, err.Error())
		var pre *backup.PreconditionError
		if errors.As(err, &pre) {
			result.Outcome = OutcomeAbortedPrecondition
			result.FailedStep = StepLocating
			result.Err = err
		} else {
			result.fail(StepLocating, err)
		}
		return result
	}
	switch kind {
	case backup.KindAmbiguous:
		result.endStep(step, false, "multiple archives in backup path")
		result.Outcome = OutcomeAbortedAmbiguous
		result.FailedStep = StepLocating
		result.Err = errors.New("ambiguous backup: more than one archive present")
		logger.LogStep(StepLocating, req.SiteName, false, "ambiguous backup")
		return result
	case backup.KindEmpty:
		result.endStep(step, false, "backup path empty")
		result.Outcome = OutcomeAbortedPrecondition
		result.FailedStep = StepLocating
		result.Err = errors.New("backup path is empty")
		logger.LogStep(StepLocating, req.SiteName, false, "empty backup")
		return result
	}
	result.endStep(step, true, kind.String())
	logger.LogStep(StepLocating, req.SiteName, true, kind.String())

	// Staging
	if cancelled(ctx, result, StepStaging) {
		return result
	}
	step = result.beginStep(StepStaging)
	staging, err := o.backups.Stage(ctx, req.BackupPath, kind, req.TempRoot, result.StartedAt)
	if err != nil {
		result.endStep(step, false, err.Error())
		result.fail(StepStaging, err)
		return result
	}
	result.StagingUsed = staging.IsTemporary
	result.endStep(step, true, staging.SourcePath)
	logger.LogStep(StepStaging, req.SiteName, true, staging.SourcePath)

	// The run owns a temporary staging directory on every exit path from
	// here on. The success path removes it in CleaningUp.
	cleaned := false
	defer func() {
		if staging.IsTemporary && !cleaned {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := o.backups.CleanupStaging(cleanupCtx, staging); err != nil {
				logger.LogError("orchestrator", "cleanup_staging", err)
			}
		}
	}()

	// BackingUp
	if cancelled(ctx, result, StepBackingUp) {
		return result
	}
	step = result.beginStep(StepBackingUp)
	record, err := o.backups.Snapshot(ctx, req.SitePath, req.BackupRoot, req.SiteName, result.StartedAt)
	if err != nil {
		result.endStep(step, false, err.Error())
		result.fail(StepBackingUp, err)
		return result
	}
	result.PreventiveBackup = &record
	result.endStep(step, true, record.Path)
	logger.LogStep(StepBackingUp, req.SiteName, true, record.Path)

	// Stopping
	if cancelled(ctx, result, StepStopping) {
		return result
	}
	step = result.beginStep(StepStopping)
	if err := o.sites.Stop(ctx, req.SiteName); err != nil {
		result.endStep(step, false, err.Error())
		result.fail(StepStopping, err)
		return result
	}
	result.endStep(step, true, "site stopped")
	logger.LogStep(StepStopping, req.SiteName, true, "site stopped")

	// Replacing
	if cancelled(ctx, result, StepReplacing) {
		return result
	}
	step = result.beginStep(StepReplacing)
	replaceErr := o.sites.DeleteContent(ctx, req.SitePath)
	if replaceErr == nil {
		replaceErr = o.sites.CopyContent(ctx, staging.SourcePath, req.SitePath)
	}
	if replaceErr != nil {
		result.endStep(step, false, replaceErr.Error())
		result.fail(StepReplacing, replaceErr)
		logger.LogStep(StepReplacing, req.SiteName, false, replaceErr.Error())

		// Prefer bringing the site back up over leaving it stopped, unless
		// the copy failed so badly that starting would serve a broken tree.
		if o.shouldStartAfter(replaceErr) {
			startStep := result.beginStep(StepStarting)
			if startErr := o.sites.Start(ctx, req.SiteName); startErr != nil {
				result.endStep(startStep, false, "best-effort start after failed replace: "+startErr.Error())
			} else {
				result.endStep(startStep, true, "best-effort start after failed replace")
			}
		}
		return result
	}
	result.endStep(step, true, "content replaced")
	logger.LogStep(StepReplacing, req.SiteName, true, "content replaced")

	// Starting
	if cancelled(ctx, result, StepStarting) {
		return result
	}
	step = result.beginStep(StepStarting)
	if err := o.sites.Start(ctx, req.SiteName); err != nil {
		result.endStep(step, false, err.Error())
		// Copied content stays in place; a manual site start is the
		// assumed recovery.
		result.fail(StepStarting, err)
		return result
	}
	result.endStep(step, true, "site running")
	logger.LogStep(StepStarting, req.SiteName, true, "site running")

	// CleaningUp
	step = result.beginStep(StepCleaningUp)
	if staging.IsTemporary {
		cleaned = true
		if err := o.backups.CleanupStaging(ctx, staging); err != nil {
			// Removal failures do not change the outcome.
			result.endStep(step, false, err.Error())
			logger.LogError("orchestrator", "cleanup_staging", err)
		} else {
			result.endStep(step, true, "temporary staging removed")
		}
	} else {
		result.endStep(step, true, "no temporary staging")
	}

	result.Outcome = OutcomeSuccess
	return result
}

func (o *Orchestrator) shouldStartAfter(err error) bool {
	var copyErr *iis.CopyError
	if errors.As(err, &copyErr) && copyErr.NonRecoverable {
		return false
	}
	return o.policy.StartAfterCopyFailure
}

func cancelled(ctx context.Context, result *Result, step string) bool {
	if err := ctx.Err(); err != nil {
		result.fail(step, errors.Wrap(err, "run cancelled"))
		return true
	}
	return false
}
