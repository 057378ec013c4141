package rollback

import (
	"time"

	"github.com/google/uuid"

	"iis-rollback/pkg/backup"
)

// Outcome is the terminal classification of one rollback run.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeSuccess
	OutcomeAbortedAmbiguous
	OutcomeAbortedPrecondition
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeAbortedAmbiguous:
		return "AbortedAmbiguous"
	case OutcomeAbortedPrecondition:
		return "AbortedPrecondition"
	default:
		return "Failed"
	}
}

// ExitCode maps an outcome onto the process exit code of the CLI.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return 0
	case OutcomeAbortedAmbiguous, OutcomeAbortedPrecondition:
		return 2
	default:
		return 1
	}
}

// StepRecord is the audit entry for one orchestration step. Records are
// append-only; a prior step's record is never overwritten.
type StepRecord struct {
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	Detail     string    `json:"detail,omitempty"`
}

// Result is produced exactly once per run and is immutable after Run
// returns. It carries everything logging, the notifier and manual recovery
// need.
type Result struct {
	RunID      uuid.UUID `json:"run_id"`
	SiteName   string    `json:"site_name"`
	Outcome    Outcome   `json:"-"`
	FailedStep string    `json:"failed_step,omitempty"`
	Err        error     `json:"-"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	PreventiveBackup *backup.PreventiveBackupRecord `json:"preventive_backup,omitempty"`
	StagingUsed      bool                           `json:"staging_used"`

	Steps []StepRecord `json:"steps"`
}

// ErrorMessage returns the failure text, empty on success.
func (r *Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func (r *Result) beginStep(name string) int {
	r.Steps = append(r.Steps, StepRecord{Name: name, StartedAt: time.Now()})
	return len(r.Steps) - 1
}

func (r *Result) endStep(index int, success bool, detail string) {
	r.Steps[index].FinishedAt = time.Now()
	r.Steps[index].Success = success
	r.Steps[index].Detail = detail
}

func (r *Result) fail(step string, err error) {
	r.Outcome = OutcomeFailed
	r.FailedStep = step
	r.Err = err
}
