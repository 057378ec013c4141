package iis

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"iis-rollback/pkg/logger"
	"iis-rollback/pkg/remote"
)

// SiteState is the observed state of an IIS site.
type SiteState int

const (
	// StateUnknown means the state query output could not be interpreted.
	// It is a failure condition for the orchestrator, never a real state.
	StateUnknown SiteState = iota
	StateRunning
	StateStopped
)

func (s SiteState) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// ControllerConfig bounds the stop/start confirmation polling.
type ControllerConfig struct {
	StopPollAttempts  int
	StopPollInterval  time.Duration
	StartPollAttempts int
	StartPollInterval time.Duration
}

// DefaultControllerConfig returns sane polling bounds.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		StopPollAttempts:  10,
		StopPollInterval:  2 * time.Second,
		StartPollAttempts: 10,
		StartPollInterval: 2 * time.Second,
	}
}

// Controller manages one IIS site and its content over the remote executor.
type Controller struct {
	exec   remote.Executor
	config ControllerConfig
}

// NewController creates a controller bound to the given executor.
func NewController(exec remote.Executor, config ControllerConfig) *Controller {
	if config.StopPollAttempts == 0 {
		config = DefaultControllerConfig()
	}
	return &Controller{exec: exec, config: config}
}

// QueryState asks IIS for the current state of the site. Output that is
// neither Started nor Stopped maps to StateUnknown.
func (c *Controller) QueryState(ctx context.Context, siteName string) (SiteState, error) {
	command := remote.Powershell(fmt.Sprintf(
		`$site = Get-Website -Name '%s'; if ($site) { $site.State } else { 'NotFound' }`,
		siteName))

	result, err := c.exec.Execute(ctx, command)
	if err != nil {
		return StateUnknown, errors.Wrap(err, "query site state")
	}
	if !result.Success() {
		return StateUnknown, nil
	}

	switch result.Stdout {
	case "Started":
		return StateRunning, nil
	case "Stopped":
		return StateStopped, nil
	default:
		return StateUnknown, nil
	}
}

// Stop issues the stop command and polls until the site reports Stopped.
// Exhausting the polling bound is fatal: the caller must not touch site
// content while the state is indeterminate.
func (c *Controller) Stop(ctx context.Context, siteName string) error {
	command := fmt.Sprintf(`appcmd stop site "%s"`, siteName)

	result, err := c.exec.Execute(ctx, command)
	if err != nil {
		return errors.Wrap(err, "stop site")
	}
	if !result.Success() {
		// appcmd fails on an already-stopped site; the poll below settles it.
		logger.LogSiteControl("stop", siteName, "", false)
	}

	state, err := c.pollState(ctx, siteName, StateStopped, c.config.StopPollAttempts, c.config.StopPollInterval)
	if err != nil {
		return err
	}
	if state != StateStopped {
		logger.LogSiteControl("stop", siteName, state.String(), false)
		return &SiteControlError{
			Site:      siteName,
			Operation: "stop",
			State:     state,
			Detail:    fmt.Sprintf("site not stopped after %d attempts", c.config.StopPollAttempts),
		}
	}

	logger.LogSiteControl("stop", siteName, state.String(), true)
	return nil
}

// Start issues the start command and polls until the site reports Running.
func (c *Controller) Start(ctx context.Context, siteName string) error {
	command := fmt.Sprintf(`appcmd start site "%s"`, siteName)

	result, err := c.exec.Execute(ctx, command)
	if err != nil {
		return errors.Wrap(err, "start site")
	}
	if !result.Success() {
		logger.LogSiteControl("start", siteName, "", false)
	}

	state, err := c.pollState(ctx, siteName, StateRunning, c.config.StartPollAttempts, c.config.StartPollInterval)
	if err != nil {
		return err
	}
	if state != StateRunning {
		logger.LogSiteControl("start", siteName, state.String(), false)
		return &SiteControlError{
			Site:      siteName,
			Operation: "start",
			State:     state,
			Detail:    fmt.Sprintf("site not running after %d attempts", c.config.StartPollAttempts),
		}
	}

	logger.LogSiteControl("start", siteName, state.String(), true)
	return nil
}

// pollState queries the site state up to attempts times, returning as soon
// as the wanted state is observed. The last observed state is returned on
// exhaustion.
func (c *Controller) pollState(ctx context.Context, siteName string, want SiteState, attempts int, interval time.Duration) (SiteState, error) {
	last := StateUnknown

	for i := 0; i < attempts; i++ {
		state, err := c.QueryState(ctx, siteName)
		if err != nil {
			return StateUnknown, err
		}
		if state == want {
			return state, nil
		}
		last = state

		select {
		case <-ctx.Done():
			return last, errors.Wrap(ctx.Err(), "state polling cancelled")
		case <-time.After(interval):
		}
	}

	return last, nil
}
