package iis

import "fmt"

// SiteControlError indicates a stop or start could not be confirmed within
// the polling bound.
type SiteControlError struct {
	Site      string
	Operation string
	State     SiteState
	Detail    string
}

func (e *SiteControlError) Error() string {
	return fmt.Sprintf("site %q %s failed: %s (last state %s)", e.Site, e.Operation, e.Detail, e.State)
}

// CopyError indicates the content replacement failed. NonRecoverable marks
// failures where the destination itself is inaccessible; starting the site
// over such a tree would only serve a broken state.
type CopyError struct {
	Operation      string
	Source         string
	Destination    string
	ExitCode       int
	Output         string
	NonRecoverable bool
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("content %s to %q failed (exit %d): %s", e.Operation, e.Destination, e.ExitCode, e.Output)
}
