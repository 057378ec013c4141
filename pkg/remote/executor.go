package remote

import (
	"context"
	"strings"
)

// Result carries the output of one remote command.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Success reports whether the command exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Executor runs a single command on the remote host and returns its output
// and exit status. A non-zero exit status is reported through Result, not
// through the error; the error is reserved for transport failures that
// prevented the command from running or completing.
type Executor interface {
	Execute(ctx context.Context, command string) (Result, error)
}

// Powershell wraps a command so it runs under powershell.exe on the remote
// Windows host. Inner commands should single-quote paths; double quotes are
// escaped here.
func Powershell(command string) string {
	escaped := strings.ReplaceAll(command, `"`, `\"`)
	return `powershell -Command "` + escaped + `"`
}
